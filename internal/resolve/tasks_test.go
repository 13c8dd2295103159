package resolve

import (
	"testing"

	"github.com/ovalle/braindump/internal/storage"
)

func TestMatchOpenTask(t *testing.T) {
	tasks := []storage.Task{
		{ID: 1, Description: "finish BI model Andina"},
		{ID: 2, Description: "send weekly recap"},
	}

	tests := []struct {
		name   string
		action string
		wantID int64
		wantOK bool
	}{
		{"action inside candidate", "BI model Andina", 1, true},
		{"candidate inside action", "we need to finish BI model Andina by Friday", 1, true},
		{"case-insensitive", "SEND WEEKLY RECAP", 2, true},
		{"no overlap", "book flights", 0, false},
		{"empty action", "  ", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchOpenTask(tt.action, tasks)
			if ok != tt.wantOK {
				t.Fatalf("MatchOpenTask(%q) ok = %v, want %v", tt.action, ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Errorf("MatchOpenTask(%q) = task %d, want %d", tt.action, got.ID, tt.wantID)
			}
		})
	}
}

func TestMatchOpenTaskSkipsDone(t *testing.T) {
	tasks := []storage.Task{
		{ID: 1, Description: "finish BI model Andina", IsDone: true},
		{ID: 2, Description: "finish BI model for the other client"},
	}

	got, ok := MatchOpenTask("BI model", tasks)
	if !ok || got.ID != 2 {
		t.Errorf("MatchOpenTask = %d/%v, want open task 2", got.ID, ok)
	}

	// All candidates done: re-submitting the completion is a no-op.
	tasks[1].IsDone = true
	if _, ok := MatchOpenTask("BI model", tasks); ok {
		t.Error("MatchOpenTask matched an already-done task")
	}
}

func TestMatchOpenTaskFirstWins(t *testing.T) {
	tasks := []storage.Task{
		{ID: 1, Description: "review the model"},
		{ID: 2, Description: "review the model again"},
	}
	got, ok := MatchOpenTask("review the model", tasks)
	if !ok || got.ID != 1 {
		t.Errorf("MatchOpenTask = %d/%v, want first match 1", got.ID, ok)
	}
}
