package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestQuadrantNoneEncodesAsNull(t *testing.T) {
	data, err := json.Marshal(Task{ID: "a"})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if raw["q"] != nil {
		t.Fatalf("expected q to be null, got %v", raw["q"])
	}
	tags, ok := raw["tags"].([]any)
	if !ok || len(tags) != 0 {
		t.Fatalf("expected tags to be an empty array, got %v", raw["tags"])
	}
	if _, ok := raw["kanban"]; ok {
		t.Fatalf("expected empty kanban to be omitted")
	}
}

func TestQuadrantDecodeCoercesUnknownValues(t *testing.T) {
	var task Task
	if err := json.Unmarshal([]byte(`{"id":"a","q":"urgent"}`), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Q != QuadrantNone {
		t.Fatalf("expected unknown quadrant to decode as none, got %q", task.Q)
	}

	if err := json.Unmarshal([]byte(`{"id":"a","q":"DECIDE"}`), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Q != QuadrantDecide {
		t.Fatalf("expected decide, got %q", task.Q)
	}
	if task.Q.Label() != "Schedule" {
		t.Fatalf("expected decide label 'Schedule', got %q", task.Q.Label())
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	data := NewUserData(time.UnixMilli(100))
	data.Tasks = append(data.Tasks, Task{ID: "a", Tags: []string{"x"}})
	data.Links = append(data.Links, Link{ID: "l"})

	clone := data.Clone()
	clone.Tasks[0].Tags[0] = "changed"
	clone.Tasks[0].Title = "changed"
	clone.Links[0].URL = "changed"

	if data.Tasks[0].Tags[0] != "x" || data.Tasks[0].Title != "" || data.Links[0].URL != "" {
		t.Fatalf("expected original to be untouched, got %+v", data)
	}
}

func TestPaletteHasNamesForEveryColor(t *testing.T) {
	if len(Palette) != 10 {
		t.Fatalf("expected 10 colors, got %d", len(Palette))
	}
	for _, color := range Palette {
		if !ValidColor(color) {
			t.Fatalf("expected %s to be valid", color)
		}
	}
	if ValidColor("#000000") {
		t.Fatalf("expected #000000 to be invalid")
	}
	if DefaultColor() != "#ef4444" {
		t.Fatalf("expected default color #ef4444, got %s", DefaultColor())
	}
}
