package engine

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Joseda-hg/notegrid/internal/model"
)

var ErrNotReady = errors.New("no active account data")

type ImportErrorKind string

const (
	ImportParse      ImportErrorKind = "parse"
	ImportValidation ImportErrorKind = "validation"
	ImportNotReady   ImportErrorKind = "not_ready"
)

type ImportError struct {
	Kind    ImportErrorKind
	Message string
	Err     error
}

func (e *ImportError) Error() string {
	return e.Message
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

type ImportResult struct {
	TasksImported int `json:"tasksImported"`
	LinksImported int `json:"linksImported"`
}

// ImportData replaces the current document with the tasks and links found in
// text. Malformed fields fall back to defaults; elements that are not
// objects and links without a URL are dropped. On error nothing changes.
func (e *Engine) ImportData(text string) (ImportResult, error) {
	if !gjson.Valid(text) {
		return ImportResult{}, &ImportError{Kind: ImportParse, Message: "Invalid JSON format. Please check the file contents."}
	}
	root := gjson.Parse(text)
	if !root.IsObject() {
		return ImportResult{}, &ImportError{Kind: ImportParse, Message: "Invalid JSON: expected an object"}
	}

	now := e.nowMillis()
	doc := model.UserData{
		Tasks:     []model.Task{},
		Links:     []model.Link{},
		CreatedAt: now,
	}
	if v := root.Get("createdAt"); v.Type == gjson.Number {
		doc.CreatedAt = v.Int()
	}

	seenTasks := map[string]bool{}
	if v := root.Get("tasks"); v.IsArray() {
		for _, item := range v.Array() {
			if item.IsObject() {
				doc.Tasks = append(doc.Tasks, e.importTask(item, now, seenTasks))
			}
		}
	}

	seenLinks := map[string]bool{}
	if v := root.Get("links"); v.IsArray() {
		for _, item := range v.Array() {
			if !item.IsObject() {
				continue
			}
			if link, ok := e.importLink(item, now, seenLinks); ok {
				doc.Links = append(doc.Links, link)
			}
		}
	}

	if len(doc.Tasks) == 0 && len(doc.Links) == 0 {
		return ImportResult{}, &ImportError{Kind: ImportValidation, Message: "No valid tasks or links found in the file"}
	}

	e.mu.Lock()
	if !e.readyLocked() {
		e.mu.Unlock()
		return ImportResult{}, &ImportError{Kind: ImportNotReady, Message: "Sign in before importing data", Err: ErrNotReady}
	}
	doc.UpdatedAt = e.current.UpdatedAt
	e.current = &doc
	e.persistAndSyncLocked(now)
	updatedAt := doc.UpdatedAt
	e.mu.Unlock()

	e.metrics.mutation("import")
	e.publish(SyncEvent{Kind: EventLocalChange, UpdatedAt: updatedAt})
	e.log.Infow("imported data", "tasks", len(doc.Tasks), "links", len(doc.Links))

	return ImportResult{TasksImported: len(doc.Tasks), LinksImported: len(doc.Links)}, nil
}

func (e *Engine) importTask(item gjson.Result, now int64, seen map[string]bool) model.Task {
	task := model.Task{
		ID:        e.importID(item.Get("id"), seen),
		Title:     stringOr(item.Get("title")),
		Note:      stringOr(item.Get("note")),
		Tags:      []string{},
		Color:     model.DefaultColor(),
		CreatedAt: millisOr(item.Get("createdAt"), now),
		UpdatedAt: millisOr(item.Get("updatedAt"), now),
		Kanban:    strings.TrimSpace(stringOr(item.Get("kanban"))),
	}
	if tags := item.Get("tags"); tags.IsArray() {
		task.Tags = stringsOf(tags)
	}
	if color := item.Get("color"); color.Type == gjson.String && model.ValidColor(color.String()) {
		task.Color = color.String()
	}
	if q := item.Get("q"); q.Type == gjson.String {
		if parsed, ok := model.ParseQuadrant(q.String()); ok {
			task.Q = parsed
		}
	}
	if completed := item.Get("completed"); completed.IsBool() {
		task.Completed = completed.Bool()
	}
	task.UpdatedAt = stamp(task.UpdatedAt, task.CreatedAt)
	return task
}

func (e *Engine) importLink(item gjson.Result, now int64, seen map[string]bool) (model.Link, bool) {
	rawURL := strings.TrimSpace(stringOr(item.Get("url")))
	if rawURL == "" {
		return model.Link{}, false
	}
	return model.Link{
		ID:        e.importID(item.Get("id"), seen),
		URL:       rawURL,
		Title:     stringOr(item.Get("title")),
		Favicon:   stringOr(item.Get("favicon")),
		CreatedAt: millisOr(item.Get("createdAt"), now),
	}, true
}

// importID keeps string ids, minting a fresh one for missing, empty or
// repeated ids.
func (e *Engine) importID(v gjson.Result, seen map[string]bool) string {
	id := ""
	if v.Type == gjson.String {
		id = v.String()
	}
	if id == "" || seen[id] {
		id = e.newID()
	}
	seen[id] = true
	return id
}

// Export renders the current document with an exportedAt timestamp as
// indented JSON.
func (e *Engine) Export() ([]byte, error) {
	snapshot, ok := e.Snapshot()
	if !ok {
		return nil, ErrNotReady
	}

	doc := struct {
		Tasks      []model.Task `json:"tasks"`
		Links      []model.Link `json:"links"`
		CreatedAt  int64        `json:"createdAt"`
		UpdatedAt  int64        `json:"updatedAt"`
		ExportedAt string       `json:"exportedAt"`
	}{
		Tasks:      snapshot.Tasks,
		Links:      snapshot.Links,
		CreatedAt:  snapshot.CreatedAt,
		UpdatedAt:  snapshot.UpdatedAt,
		ExportedAt: e.now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	return json.MarshalIndent(doc, "", "  ")
}

func stringOr(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return ""
}

func millisOr(v gjson.Result, fallback int64) int64 {
	if v.Type == gjson.Number {
		return v.Int()
	}
	return fallback
}
