package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Joseda-hg/notegrid/internal/model"
)

var paneQuadrant = map[string]model.Quadrant{
	viewDo:       model.QuadrantDo,
	viewDecide:   model.QuadrantDecide,
	viewDelegate: model.QuadrantDelegate,
	viewDelete:   model.QuadrantDelete,
	viewInbox:    model.QuadrantNone,
}

// taskPanes is the focus and quadrant cycling order.
var taskPanes = []string{viewDo, viewDecide, viewDelegate, viewDelete, viewInbox}

func quadrantPane(q model.Quadrant) string {
	for pane, candidate := range paneQuadrant {
		if candidate == q {
			return pane
		}
	}
	return viewInbox
}

func isTaskPane(name string) bool {
	_, ok := paneQuadrant[name]
	return ok
}

// groupTasks splits tasks by quadrant, keeping document order, and drops the
// ones that do not match query.
func groupTasks(tasks []model.Task, query string) map[string][]model.Task {
	grouped := make(map[string][]model.Task, len(taskPanes))
	for _, pane := range taskPanes {
		grouped[pane] = nil
	}
	for _, task := range tasks {
		if !matchesQuery(task, query) {
			continue
		}
		pane := quadrantPane(task.Q)
		grouped[pane] = append(grouped[pane], task)
	}
	return grouped
}

func matchesQuery(task model.Task, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(task.Title), query) || strings.Contains(strings.ToLower(task.Note), query) {
		return true
	}
	for _, tag := range task.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func formatTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tags))
	for _, tag := range tags {
		parts = append(parts, "#"+tag)
	}
	return strings.Join(parts, " ")
}

func formatTaskSummary(task model.Task) string {
	check := "[ ]"
	if task.Completed {
		check = "[x]"
	}
	summary := check + " " + task.Title
	if tags := formatTags(task.Tags); tags != "" {
		summary += "  " + tags
	}
	return summary
}

func colorName(hex string) string {
	if name, ok := model.ColorNames[hex]; ok {
		return name
	}
	return hex
}

func formatLink(link model.Link) string {
	title := link.Title
	if title == "" {
		title = link.URL
	}
	return fmt.Sprintf("%s  %s", title, link.URL)
}

func formatLogEntry(entry model.SyncLogEntry) string {
	line := entry.CreatedAt.Local().Format("15:04:05") + " " + entry.Kind
	if entry.Detail != "" {
		line += ": " + entry.Detail
	}
	return line
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "n/a"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
