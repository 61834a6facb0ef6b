package tui

import (
	"errors"
	"strings"

	"github.com/Joseda-hg/notegrid/internal/engine"
	"github.com/Joseda-hg/notegrid/internal/model"
)

type formKind int

const (
	formTask formKind = iota
	formLink
)

// formField is one editable row. Fields with Options are cycled with
// space/left/right instead of typed into.
type formField struct {
	Label   string
	Value   string
	Options []string
}

const (
	fieldTitle = iota
	fieldNote
	fieldTags
	fieldColor
	fieldQuadrant
	fieldKanban
)

const (
	fieldURL = iota
	fieldLinkTitle
)

func colorOptions() []string {
	options := make([]string, 0, len(model.Palette))
	for _, hex := range model.Palette {
		options = append(options, model.ColorNames[hex])
	}
	return options
}

func quadrantOptions() []string {
	options := []string{model.QuadrantNone.Label()}
	for _, q := range model.Quadrants {
		options = append(options, q.Label())
	}
	return options
}

func buildTaskForm(task *model.Task, q model.Quadrant) []formField {
	fields := []formField{
		{Label: "Title"},
		{Label: "Note"},
		{Label: "Tags (comma separated)"},
		{Label: "Color", Options: colorOptions()},
		{Label: "Quadrant", Options: quadrantOptions()},
		{Label: "Kanban column"},
	}

	if task == nil {
		fields[fieldColor].Value = colorName(model.DefaultColor())
		fields[fieldQuadrant].Value = q.Label()
		return fields
	}

	fields[fieldTitle].Value = task.Title
	fields[fieldNote].Value = task.Note
	fields[fieldTags].Value = joinTags(task.Tags)
	fields[fieldColor].Value = colorName(task.Color)
	fields[fieldQuadrant].Value = task.Q.Label()
	fields[fieldKanban].Value = task.Kanban
	return fields
}

func parseTaskForm(fields []formField) (engine.TaskPatch, error) {
	title := strings.TrimSpace(fields[fieldTitle].Value)
	if title == "" {
		return engine.TaskPatch{}, errors.New("title is required")
	}

	patch := engine.TaskPatch{
		Title:  engine.Ptr(title),
		Note:   engine.Ptr(strings.TrimSpace(fields[fieldNote].Value)),
		Tags:   engine.Ptr(parseTags(fields[fieldTags].Value)),
		Kanban: engine.Ptr(strings.TrimSpace(fields[fieldKanban].Value)),
		Q:      engine.Ptr(quadrantFromLabel(fields[fieldQuadrant].Value)),
	}
	if hex, ok := colorFromName(fields[fieldColor].Value); ok {
		patch.Color = engine.Ptr(hex)
	}
	return patch, nil
}

func buildLinkForm() []formField {
	return []formField{
		{Label: "URL"},
		{Label: "Title (optional)"},
	}
}

func parseLinkForm(fields []formField) (engine.LinkDraft, error) {
	url := strings.TrimSpace(fields[fieldURL].Value)
	if url == "" {
		return engine.LinkDraft{}, errors.New("url is required")
	}
	return engine.LinkDraft{URL: url, Title: strings.TrimSpace(fields[fieldLinkTitle].Value)}, nil
}

func quadrantFromLabel(label string) model.Quadrant {
	for _, q := range model.Quadrants {
		if q.Label() == label {
			return q
		}
	}
	return model.QuadrantNone
}

func colorFromName(name string) (string, bool) {
	for hex, candidate := range model.ColorNames {
		if candidate == name {
			return hex, true
		}
	}
	return "", false
}

func parseTags(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}

func joinTags(tags []string) string {
	return strings.Join(tags, ", ")
}

func cycleOption(options []string, current string, delta int) string {
	if len(options) == 0 {
		return ""
	}
	index := 0
	for i, option := range options {
		if option == current {
			index = i
			break
		}
	}
	index = (index + delta + len(options)) % len(options)
	return options[index]
}
