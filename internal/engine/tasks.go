package engine

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Joseda-hg/notegrid/internal/model"
)

// TaskPatch carries the fields to change. Nil fields are left alone. Colors
// outside the palette and unknown quadrants are ignored.
type TaskPatch struct {
	Title     *string
	Note      *string
	Tags      *[]string
	Color     *string
	Q         *model.Quadrant
	Completed *bool
	Kanban    *string
}

func Ptr[T any](v T) *T {
	return &v
}

// UnmarshalJSON decodes a partial task. Unlike encoding/json defaults, an
// explicit `"q": null` or `"kanban": null` clears the field.
func (p *TaskPatch) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("task patch is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return errors.New("task patch must be an object")
	}

	*p = TaskPatch{}
	if v := root.Get("title"); v.Type == gjson.String {
		p.Title = Ptr(v.String())
	}
	if v := root.Get("note"); v.Type == gjson.String {
		p.Note = Ptr(v.String())
	}
	if v := root.Get("tags"); v.IsArray() {
		p.Tags = Ptr(stringsOf(v))
	}
	if v := root.Get("color"); v.Type == gjson.String {
		p.Color = Ptr(v.String())
	}
	if v := root.Get("q"); v.Exists() {
		switch v.Type {
		case gjson.Null:
			p.Q = Ptr(model.QuadrantNone)
		case gjson.String:
			p.Q = Ptr(model.Quadrant(v.String()))
		}
	}
	if v := root.Get("completed"); v.IsBool() {
		p.Completed = Ptr(v.Bool())
	}
	if v := root.Get("kanban"); v.Exists() {
		switch v.Type {
		case gjson.Null:
			p.Kanban = Ptr("")
		case gjson.String:
			p.Kanban = Ptr(v.String())
		}
	}
	return nil
}

func (p TaskPatch) apply(task *model.Task) {
	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Note != nil {
		task.Note = *p.Note
	}
	if p.Tags != nil {
		task.Tags = append(make([]string, 0, len(*p.Tags)), *p.Tags...)
	}
	if p.Color != nil && model.ValidColor(*p.Color) {
		task.Color = *p.Color
	}
	if p.Q != nil {
		if q, ok := model.ParseQuadrant(string(*p.Q)); ok {
			task.Q = q
		}
	}
	if p.Completed != nil {
		task.Completed = *p.Completed
	}
	if p.Kanban != nil {
		task.Kanban = strings.TrimSpace(*p.Kanban)
	}
}

// AddTask appends a new task built from the defaults overridden by patch.
func (e *Engine) AddTask(patch TaskPatch) (model.Task, bool) {
	var created model.Task
	ok := e.mutate("add_task", func(data *model.UserData, now int64) bool {
		created = model.Task{
			ID:        e.newID(),
			Tags:      []string{},
			Color:     model.DefaultColor(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		patch.apply(&created)
		data.Tasks = append(data.Tasks, created.Clone())
		return true
	})
	return created, ok
}

// UpdateTask merges patch into the task with id. Unknown ids are a no-op.
func (e *Engine) UpdateTask(id string, patch TaskPatch) bool {
	return e.mutate("update_task", func(data *model.UserData, now int64) bool {
		i := taskIndex(data.Tasks, id)
		if i < 0 {
			return false
		}
		patch.apply(&data.Tasks[i])
		data.Tasks[i].UpdatedAt = stamp(now, data.Tasks[i].CreatedAt)
		return true
	})
}

func (e *Engine) DeleteTask(id string) bool {
	return e.mutate("delete_task", func(data *model.UserData, _ int64) bool {
		i := taskIndex(data.Tasks, id)
		if i < 0 {
			return false
		}
		data.Tasks = append(data.Tasks[:i:i], data.Tasks[i+1:]...)
		return true
	})
}

// ReorderTasks moves the listed tasks to the front in the given order. Ids
// that are unknown or repeated are skipped; the remaining tasks keep their
// relative order after them.
func (e *Engine) ReorderTasks(ids []string) bool {
	return e.mutate("reorder_tasks", func(data *model.UserData, _ int64) bool {
		data.Tasks = reorder(data.Tasks, ids, func(t model.Task) string { return t.ID })
		return true
	})
}

type GroupField int

const (
	GroupQuadrant GroupField = iota
	GroupKanban
)

func (f GroupField) String() string {
	switch f {
	case GroupQuadrant:
		return "quadrant"
	case GroupKanban:
		return "kanban"
	}
	return "unknown"
}

// Group names one bucket of tasks for drag and drop. An empty Value is the
// "unassigned" bucket of that field.
type Group struct {
	Field GroupField
	Value string
}

func QuadrantGroup(q model.Quadrant) Group {
	return Group{Field: GroupQuadrant, Value: string(q)}
}

func KanbanGroup(column string) Group {
	return Group{Field: GroupKanban, Value: strings.TrimSpace(column)}
}

func (g Group) valid() bool {
	switch g.Field {
	case GroupQuadrant:
		_, ok := model.ParseQuadrant(g.Value)
		return ok
	case GroupKanban:
		return true
	}
	return false
}

func (g Group) contains(task model.Task) bool {
	switch g.Field {
	case GroupQuadrant:
		return task.Q == model.Quadrant(g.Value)
	case GroupKanban:
		return task.Kanban == g.Value
	}
	return false
}

func (g Group) assign(task *model.Task) {
	switch g.Field {
	case GroupQuadrant:
		task.Q, _ = model.ParseQuadrant(g.Value)
	case GroupKanban:
		task.Kanban = g.Value
	}
}

// MoveTask applies patch to the task, places it in group and splices it in
// at index among the group's other members. The resulting sequence is every
// task outside the group, then the group, each in its previous relative
// order. The move is a single mutation.
func (e *Engine) MoveTask(id string, patch TaskPatch, index int, group Group) bool {
	if !group.valid() {
		return false
	}
	if group.Field == GroupQuadrant {
		group.Value = strings.ToLower(strings.TrimSpace(group.Value))
	}

	return e.mutate("move_task", func(data *model.UserData, now int64) bool {
		i := taskIndex(data.Tasks, id)
		if i < 0 {
			return false
		}

		moved := data.Tasks[i].Clone()
		patch.apply(&moved)
		group.assign(&moved)
		moved.UpdatedAt = stamp(now, moved.CreatedAt)

		others := make([]model.Task, 0, len(data.Tasks))
		members := make([]model.Task, 0, len(data.Tasks))
		for j, task := range data.Tasks {
			if j == i {
				continue
			}
			if group.contains(task) {
				members = append(members, task)
			} else {
				others = append(others, task)
			}
		}

		index = clamp(index, 0, len(members))
		members = append(members[:index], append([]model.Task{moved}, members[index:]...)...)
		data.Tasks = append(others, members...)
		return true
	})
}

func taskIndex(tasks []model.Task, id string) int {
	for i, task := range tasks {
		if task.ID == id {
			return i
		}
	}
	return -1
}

func reorder[T any](items []T, ids []string, idOf func(T) string) []T {
	positions := make(map[string]int, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		positions[idOf(items[i])] = i
	}

	used := make([]bool, len(items))
	result := make([]T, 0, len(items))
	for _, id := range ids {
		i, ok := positions[id]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		result = append(result, items[i])
	}
	for i, item := range items {
		if !used[i] {
			result = append(result, item)
		}
	}
	return result
}

func stamp(now, createdAt int64) int64 {
	if now < createdAt {
		return createdAt
	}
	return now
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func stringsOf(v gjson.Result) []string {
	out := []string{}
	for _, item := range v.Array() {
		if item.Type == gjson.String {
			out = append(out, item.String())
		}
	}
	return out
}
