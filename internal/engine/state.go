package engine

import (
	"sync"

	"github.com/ovalle/braindump/internal/storage"
)

// State is the in-memory view of the owner-scoped domain collections. The
// engine mutates it optimistically before the store confirms; Snapshot and
// Restore give the commit path a point-in-time revert when a store call
// fails. All accessors deep-copy on the way out so callers can never alias
// the guarded slices.
type State struct {
	mu      sync.RWMutex
	books   []storage.Book
	entries []storage.Entry
	folders []storage.Folder
}

// Snapshot is an immutable copy of the state at one point in time.
type Snapshot struct {
	books   []storage.Book
	entries []storage.Entry
}

func NewState() *State {
	return &State{}
}

// Snapshot captures the current books and entries for later Restore.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		books:   cloneBooks(s.books),
		entries: cloneEntries(s.entries),
	}
}

// Restore reverts the snapshotted records to their captured versions.
// Entries that appeared after the snapshot was taken belong to other
// captures (optimistic placeholders, error fallbacks holding the only copy
// of their raw text) and are kept in front, newest-first.
func (s *State) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inSnap := make(map[string]bool, len(snap.entries))
	for _, e := range snap.entries {
		inSnap[e.ID] = true
	}
	var kept []storage.Entry
	for i := range s.entries {
		if !inSnap[s.entries[i].ID] {
			kept = append(kept, s.entries[i])
		}
	}

	s.books = cloneBooks(snap.books)
	s.entries = append(kept, cloneEntries(snap.entries)...)
}

// Books returns a copy of the in-memory book list.
func (s *State) Books() []storage.Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBooks(s.books)
}

// Entries returns a copy of the in-memory entry list.
func (s *State) Entries() []storage.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries)
}

// Folders returns a copy of the in-memory folder list.
func (s *State) Folders() []storage.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Folder, len(s.folders))
	copy(out, s.folders)
	return out
}

// ReplaceBooks overwrites the book collection (live fetch landed).
func (s *State) ReplaceBooks(books []storage.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = cloneBooks(books)
}

// ReplaceEntries overwrites the entry collection (live fetch landed).
func (s *State) ReplaceEntries(entries []storage.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cloneEntries(entries)
}

// MergeEntries overwrites the committed entries with a live fetch while
// keeping local-only entries (optimistic placeholders and error fallbacks
// that were never persisted) visible at the front.
func (s *State) MergeEntries(live []storage.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	liveIDs := make(map[string]bool, len(live))
	for _, e := range live {
		liveIDs[e.ID] = true
	}

	var merged []storage.Entry
	for i := range s.entries {
		e := s.entries[i]
		if e.Status != storage.EntryStatusCompleted && !liveIDs[e.ID] {
			merged = append(merged, e)
		}
	}
	merged = append(merged, cloneEntries(live)...)
	s.entries = merged
}

// ReplaceFolders overwrites the folder collection.
func (s *State) ReplaceFolders(folders []storage.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = make([]storage.Folder, len(folders))
	copy(s.folders, folders)
}

// AddBook appends a book.
func (s *State) AddBook(b storage.Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = append(s.books, b)
}

// UpsertEntry replaces the entry with the same ID, or prepends it when new
// (newest-first, matching the store's read order).
func (s *State) UpsertEntry(e storage.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == e.ID {
			s.entries[i] = cloneEntry(e)
			return
		}
	}
	s.entries = append([]storage.Entry{cloneEntry(e)}, s.entries...)
}

// RemoveEntry drops the entry with the given ID, if present.
func (s *State) RemoveEntry(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Entry returns a copy of the entry with the given ID.
func (s *State) Entry(id string) (storage.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			return cloneEntry(s.entries[i]), true
		}
	}
	return storage.Entry{}, false
}

// SetEntryError mutates an entry in place to the error state with a
// degraded summary. The original text stays untouched.
func (s *State) SetEntryError(id, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries[i].Status = storage.EntryStatusError
			s.entries[i].Summary = summary
			return
		}
	}
}

// SetBookContext updates a book's running summary in place.
func (s *State) SetBookContext(bookID, context string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.books {
		if s.books[i].ID == bookID {
			s.books[i].Context = context
			return
		}
	}
}

// OpenTasks returns copies of all not-done tasks across all entries, in
// entry order.
func (s *State) OpenTasks() []storage.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var open []storage.Task
	for i := range s.entries {
		for _, t := range s.entries[i].Tasks {
			if !t.IsDone {
				open = append(open, t)
			}
		}
	}
	return open
}

// MarkTaskDone toggles the task with the given store ID to done and records
// completion notes. Returns false if no entry holds that task.
func (s *State) MarkTaskDone(taskID int64, notes string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		for j := range s.entries[i].Tasks {
			if s.entries[i].Tasks[j].ID == taskID {
				s.entries[i].Tasks[j].IsDone = true
				s.entries[i].Tasks[j].CompletionNotes = notes
				return true
			}
		}
	}
	return false
}

// PatchTask applies the non-nil fields of patch to the task with the given
// store ID. Returns false if no entry holds that task.
func (s *State) PatchTask(taskID int64, patch storage.TaskPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		for j := range s.entries[i].Tasks {
			if s.entries[i].Tasks[j].ID != taskID {
				continue
			}
			t := &s.entries[i].Tasks[j]
			if patch.Description != nil {
				t.Description = *patch.Description
			}
			if patch.Assignee != nil {
				t.Assignee = *patch.Assignee
			}
			if patch.DueDate != nil {
				t.DueDate = *patch.DueDate
			}
			if patch.Priority != nil {
				t.Priority = *patch.Priority
			}
			return true
		}
	}
	return false
}

func cloneBooks(books []storage.Book) []storage.Book {
	out := make([]storage.Book, len(books))
	copy(out, books)
	return out
}

func cloneEntries(entries []storage.Entry) []storage.Entry {
	out := make([]storage.Entry, len(entries))
	for i := range entries {
		out[i] = cloneEntry(entries[i])
	}
	return out
}

func cloneEntry(e storage.Entry) storage.Entry {
	out := e
	out.Tasks = make([]storage.Task, len(e.Tasks))
	copy(out.Tasks, e.Tasks)
	out.Entities = make([]storage.Entity, len(e.Entities))
	copy(out.Entities, e.Entities)
	return out
}
