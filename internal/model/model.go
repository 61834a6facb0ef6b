package model

import (
	"encoding/json"
	"strings"
	"time"
)

type Quadrant string

const (
	QuadrantNone     Quadrant = ""
	QuadrantDo       Quadrant = "do"
	QuadrantDecide   Quadrant = "decide"
	QuadrantDelegate Quadrant = "delegate"
	QuadrantDelete   Quadrant = "delete"
)

// Quadrants lists the matrix cells in display order.
var Quadrants = []Quadrant{QuadrantDo, QuadrantDecide, QuadrantDelegate, QuadrantDelete}

var quadrantLabels = map[Quadrant]string{
	QuadrantDo:       "Do",
	QuadrantDecide:   "Schedule",
	QuadrantDelegate: "Delegate",
	QuadrantDelete:   "Eliminate",
}

func (q Quadrant) Valid() bool {
	_, ok := quadrantLabels[q]
	return ok
}

func (q Quadrant) Label() string {
	if label, ok := quadrantLabels[q]; ok {
		return label
	}
	return "Inbox"
}

// ParseQuadrant accepts the wire value case-insensitively. An empty string
// parses to QuadrantNone.
func ParseQuadrant(value string) (Quadrant, bool) {
	q := Quadrant(strings.ToLower(strings.TrimSpace(value)))
	if q == QuadrantNone || q.Valid() {
		return q, true
	}
	return QuadrantNone, false
}

func (q Quadrant) MarshalJSON() ([]byte, error) {
	if !q.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(string(q))
}

func (q *Quadrant) UnmarshalJSON(data []byte) error {
	var value *string
	if err := json.Unmarshal(data, &value); err != nil {
		*q = QuadrantNone
		return nil
	}
	if value == nil {
		*q = QuadrantNone
		return nil
	}
	parsed, _ := ParseQuadrant(*value)
	*q = parsed
	return nil
}

// Palette is the fixed, ordered set of task colors.
var Palette = []string{
	"#ef4444",
	"#22c55e",
	"#f97316",
	"#3b82f6",
	"#8b5cf6",
	"#ec4899",
	"#14b8a6",
	"#facc15",
	"#64748b",
	"#0f172a",
}

var ColorNames = map[string]string{
	"#ef4444": "Red",
	"#22c55e": "Green",
	"#f97316": "Orange",
	"#3b82f6": "Blue",
	"#8b5cf6": "Purple",
	"#ec4899": "Pink",
	"#14b8a6": "Teal",
	"#facc15": "Yellow",
	"#64748b": "Gray",
	"#0f172a": "Dark",
}

func DefaultColor() string {
	return Palette[0]
}

func ValidColor(color string) bool {
	_, ok := ColorNames[color]
	return ok
}

type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Note      string   `json:"note"`
	Tags      []string `json:"tags"`
	Color     string   `json:"color"`
	Q         Quadrant `json:"q"`
	Completed bool     `json:"completed"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	Kanban    string   `json:"kanban,omitempty"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	type wire Task
	out := wire(t)
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return json.Marshal(out)
}

func (t Task) Clone() Task {
	out := t
	out.Tags = append(make([]string, 0, len(t.Tags)), t.Tags...)
	return out
}

type Link struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Favicon   string `json:"favicon"`
	CreatedAt int64  `json:"createdAt"`
}

// UserData is the whole synchronized document. Order of Tasks and Links is
// significant.
type UserData struct {
	Tasks     []Task `json:"tasks"`
	Links     []Link `json:"links"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func NewUserData(now time.Time) UserData {
	ms := now.UnixMilli()
	return UserData{
		Tasks:     []Task{},
		Links:     []Link{},
		CreatedAt: ms,
		UpdatedAt: ms,
	}
}

func (d UserData) MarshalJSON() ([]byte, error) {
	type wire UserData
	out := wire(d)
	if out.Tasks == nil {
		out.Tasks = []Task{}
	}
	if out.Links == nil {
		out.Links = []Link{}
	}
	return json.Marshal(out)
}

func (d UserData) Clone() UserData {
	out := d
	out.Tasks = make([]Task, 0, len(d.Tasks))
	for _, task := range d.Tasks {
		out.Tasks = append(out.Tasks, task.Clone())
	}
	out.Links = append(make([]Link, 0, len(d.Links)), d.Links...)
	return out
}

func (d UserData) FindTask(id string) (Task, bool) {
	for _, task := range d.Tasks {
		if task.ID == id {
			return task, true
		}
	}
	return Task{}, false
}

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

func ParseTheme(value string) (Theme, bool) {
	switch theme := Theme(strings.ToLower(strings.TrimSpace(value))); theme {
	case ThemeLight, ThemeDark, ThemeSystem:
		return theme, true
	}
	return ThemeSystem, false
}

// SyncLogEntry records one sync-relevant event for display.
type SyncLogEntry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}
