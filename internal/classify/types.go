package classify

import (
	"errors"
	"fmt"
)

// ErrInvalidResponse marks a hard classification failure: network error,
// non-2xx status, malformed JSON, or a response violating the contract.
// The engine treats everything wrapping it as one failure category — the
// capture's placeholder entry goes to its error state with the raw text kept.
var ErrInvalidResponse = errors.New("invalid classification response")

// Task action verbs the service may emit.
const (
	ActionComplete = "complete"
	ActionUpdate   = "update"
)

// Attachment is an optional binary payload sent alongside the raw text.
type Attachment struct {
	MimeType   string `json:"mimeType"`
	Base64Data string `json:"base64Data"`
	FileName   string `json:"fileName"`
}

// Request is the classification request contract. The summaries give the
// service enough domain context to route topics onto existing books and
// recognize completions of open tasks.
type Request struct {
	RawText                  string      `json:"rawText"`
	Attachment               *Attachment `json:"attachment,omitempty"`
	ExistingBooksSummary     []string    `json:"existingBooksSummary"`
	ExistingOpenTasksSummary []string    `json:"existingOpenTasksSummary"`
	RecentEntriesSummary     []string    `json:"recentEntriesSummary"`
}

// ProposedTask is an actionable item the service extracted.
type ProposedTask struct {
	Description string `json:"description"`
	Assignee    string `json:"assignee,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// ProposedEntity annotates a topic with a named entity.
type ProposedEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TaskAction proposes completing or updating an existing open task instead
// of creating new content.
type TaskAction struct {
	Action          string `json:"action"`
	TaskDescription string `json:"taskDescription"`
	CompletionNotes string `json:"completionNotes,omitempty"`
}

// Topic is one routed slice of the captured content.
type Topic struct {
	TargetBookName string           `json:"targetBookName"`
	Type           string           `json:"type"`
	Summary        string           `json:"summary"`
	Tasks          []ProposedTask   `json:"tasks"`
	Entities       []ProposedEntity `json:"entities"`
	TaskActions    []TaskAction     `json:"taskActions"`
}

// Response is the classification response contract.
type Response struct {
	IsMultiTopic   bool    `json:"isMultiTopic"`
	Topics         []Topic `json:"topics"`
	OverallContext string  `json:"overallContext"`
}

// Validate rejects responses that fail the contract. Anything reaching the
// engine after Validate can be trusted field-by-field; duck-typed access to
// half-valid responses is exactly what this boundary exists to prevent.
func (r Response) Validate() error {
	if len(r.Topics) == 0 {
		return fmt.Errorf("%w: no topics", ErrInvalidResponse)
	}
	for i, topic := range r.Topics {
		// A topic carrying only task actions needs no target book; anything
		// producing content must name one.
		actionOnly := topic.TargetBookName == "" && len(topic.TaskActions) > 0 &&
			len(topic.Tasks) == 0 && topic.Summary == ""
		if topic.TargetBookName == "" && !actionOnly {
			return fmt.Errorf("%w: topic %d missing targetBookName", ErrInvalidResponse, i)
		}
		for j, action := range topic.TaskActions {
			if action.Action != ActionComplete && action.Action != ActionUpdate {
				return fmt.Errorf("%w: topic %d action %d has unknown verb %q", ErrInvalidResponse, i, j, action.Action)
			}
			if action.TaskDescription == "" {
				return fmt.Errorf("%w: topic %d action %d missing taskDescription", ErrInvalidResponse, i, j)
			}
		}
		for j, task := range topic.Tasks {
			if task.Description == "" {
				return fmt.Errorf("%w: topic %d task %d missing description", ErrInvalidResponse, i, j)
			}
		}
	}
	return nil
}
