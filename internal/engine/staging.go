package engine

import (
	"sync"

	"github.com/ovalle/braindump/internal/classify"
	"github.com/ovalle/braindump/internal/storage"
)

// StagedTopic is one not-yet-persisted classification result awaiting
// confirmation. EntryID is pre-generated; nothing here is visible to the
// store until Confirm.
type StagedTopic struct {
	EntryID       string                `json:"entryId"`
	CaptureID     string                `json:"captureId"`
	BookID        string                `json:"bookId"`
	BookName      string                `json:"bookName"`
	IsNewBook     bool                  `json:"isNewBook"`
	Type          string                `json:"type"`
	Summary       string                `json:"summary"`
	Tasks         []storage.Task        `json:"tasks"`
	Entities      []storage.Entity      `json:"entities"`
	OriginalText  string                `json:"originalText"`
	AttachmentRef string                `json:"attachmentRef,omitempty"`
	TaskActions   []classify.TaskAction `json:"taskActions,omitempty"`
}

// StagingArea holds staged topics keyed by their pre-generated entry ID.
type StagingArea struct {
	mu     sync.Mutex
	topics map[string]StagedTopic
}

func NewStagingArea() *StagingArea {
	return &StagingArea{topics: make(map[string]StagedTopic)}
}

// Put stages a topic under its entry ID.
func (a *StagingArea) Put(t StagedTopic) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.topics[t.EntryID] = t
}

// Get returns the staged topic for the given entry ID.
func (a *StagingArea) Get(entryID string) (StagedTopic, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.topics[entryID]
	return t, ok
}

// Remove drops a staged topic. Returns the removed topic if it existed.
func (a *StagingArea) Remove(entryID string) (StagedTopic, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.topics[entryID]
	if ok {
		delete(a.topics, entryID)
	}
	return t, ok
}

// List returns all staged topics, most useful for surfacing pending
// confirmations. Order is unspecified.
func (a *StagingArea) List() []StagedTopic {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StagedTopic, 0, len(a.topics))
	for _, t := range a.topics {
		out = append(out, t)
	}
	return out
}

// ByCapture returns the staged topics belonging to one capture.
func (a *StagingArea) ByCapture(captureID string) []StagedTopic {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []StagedTopic
	for _, t := range a.topics {
		if t.CaptureID == captureID {
			out = append(out, t)
		}
	}
	return out
}

// Len reports how many topics are pending confirmation.
func (a *StagingArea) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.topics)
}
