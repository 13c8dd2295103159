package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Entry lifecycle states.
const (
	EntryStatusProcessing = "processing"
	EntryStatusCompleted  = "completed"
	EntryStatusError      = "error"
)

// Entry content types assigned by classification.
const (
	EntryTypeNote     = "note"
	EntryTypeTask     = "task"
	EntryTypeDecision = "decision"
	EntryTypeIdea     = "idea"
	EntryTypeRisk     = "risk"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Book is a topic bucket that owns entries. Context is an AI-maintained
// running summary rewritten in the background after each new entry.
type Book struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	FolderID    string
	Context     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Folder groups books for navigation purposes.
type Folder struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// Entry is one classified unit of captured content, owned by a Book.
type Entry struct {
	ID            string
	OwnerID       string
	BookID        string
	OriginalText  string
	AttachmentRef string
	Type          string
	Summary       string
	Status        string
	Tasks         []Task
	Entities      []Entity
	CreatedAt     time.Time
}

// Task is an actionable item embedded in an Entry. ID is assigned by the
// store on first write; a Task with ID == 0 cannot be durably updated yet.
type Task struct {
	ID              int64
	EntryID         string
	Description     string
	Assignee        string
	DueDate         string
	Priority        string
	IsDone          bool
	CompletionNotes string
}

// Entity is a pure annotation on an Entry (person, topic, project, ...).
// It has no independent identity.
type Entity struct {
	Name string
	Type string
}

// TaskPatch holds optional field updates for UpdateTaskFields. Nil fields
// are left untouched.
type TaskPatch struct {
	Description *string
	Assignee    *string
	DueDate     *string
	Priority    *string
}

// SearchFilters narrows SearchEntries results. Zero values mean "any".
type SearchFilters struct {
	BookID string
	Type   string
	Status string
	Text   string
	Limit  int
}
