package storage

import (
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
	if len(v1) == 0 {
		t.Error("no migrations applied")
	}
}

func TestCreateAndLoadBooks(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	books := []Book{
		{ID: "b1", OwnerID: "u1", Name: "Project X", CreatedAt: base},
		{ID: "b2", OwnerID: "u1", Name: "Personal", Context: "health, errands", CreatedAt: base.Add(time.Minute)},
		{ID: "b3", OwnerID: "u2", Name: "Other owner", CreatedAt: base},
	}
	for _, b := range books {
		if err := s.CreateBook(b); err != nil {
			t.Fatalf("CreateBook(%s): %v", b.ID, err)
		}
	}

	got, err := s.LoadAllBooks("u1")
	if err != nil {
		t.Fatalf("LoadAllBooks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadAllBooks returned %d books, want 2", len(got))
	}
	// Ordering by created_at ascending must be stable; resolution depends on it.
	if got[0].ID != "b1" || got[1].ID != "b2" {
		t.Errorf("ordering = [%s, %s], want [b1, b2]", got[0].ID, got[1].ID)
	}
	if got[1].Context != "health, errands" {
		t.Errorf("Context = %q, want %q", got[1].Context, "health, errands")
	}
}

func TestGetBookOwnerScoped(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBook(Book{ID: "b1", OwnerID: "u1", Name: "Mine"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}

	if _, err := s.GetBook("u2", "b1"); err != ErrNotFound {
		t.Errorf("GetBook with wrong owner: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetBook("u1", "b1"); err != nil {
		t.Errorf("GetBook with right owner: %v", err)
	}
}

func TestUpdateBookContext(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBook(Book{ID: "b1", OwnerID: "u1", Name: "Project X"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if err := s.UpdateBookContext("u1", "b1", "running summary of the project"); err != nil {
		t.Fatalf("UpdateBookContext: %v", err)
	}

	b, err := s.GetBook("u1", "b1")
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if b.Context != "running summary of the project" {
		t.Errorf("Context = %q", b.Context)
	}
	if b.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set after context rewrite")
	}

	if err := s.UpdateBookContext("u1", "missing", "x"); err != ErrNotFound {
		t.Errorf("UpdateBookContext(missing): err = %v, want ErrNotFound", err)
	}
}

func TestSaveEntryAssignsTaskIDs(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBook(Book{ID: "b1", OwnerID: "u1", Name: "Project X"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}

	e := Entry{
		ID:           "e1",
		OwnerID:      "u1",
		BookID:       "b1",
		OriginalText: "Meeting notes with Ana, due Friday",
		Type:         EntryTypeNote,
		Summary:      "Meeting with Ana",
		Tasks: []Task{
			{Description: "prepare slides", Assignee: "Ana", DueDate: "Friday", Priority: PriorityHigh},
			{Description: "send recap"},
		},
		Entities: []Entity{{Name: "Ana", Type: "person"}},
	}

	saved, err := s.SaveEntry(e)
	if err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}
	if saved.Tasks[0].ID == 0 || saved.Tasks[1].ID == 0 {
		t.Fatalf("task IDs not assigned: %+v", saved.Tasks)
	}
	if saved.Tasks[0].ID == saved.Tasks[1].ID {
		t.Error("duplicate task IDs assigned")
	}
	if saved.Tasks[1].Priority != PriorityMedium {
		t.Errorf("default priority = %q, want %q", saved.Tasks[1].Priority, PriorityMedium)
	}
	if saved.Status != EntryStatusCompleted {
		t.Errorf("default status = %q, want %q", saved.Status, EntryStatusCompleted)
	}

	loaded, err := s.GetEntry("u1", "e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if len(loaded.Tasks) != 2 || len(loaded.Entities) != 1 {
		t.Fatalf("round trip lost children: %d tasks, %d entities", len(loaded.Tasks), len(loaded.Entities))
	}
	if loaded.Tasks[0].Assignee != "Ana" {
		t.Errorf("Assignee = %q, want Ana", loaded.Tasks[0].Assignee)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBook(Book{ID: "b1", OwnerID: "u1", Name: "Project X"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	saved, err := s.SaveEntry(Entry{
		ID: "e1", OwnerID: "u1", BookID: "b1", OriginalText: "x",
		Tasks: []Task{{Description: "finish BI model Andina"}},
	})
	if err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}
	taskID := saved.Tasks[0].ID

	if err := s.UpdateTaskStatus("u1", taskID, true, "done via capture"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	loaded, err := s.GetEntry("u1", "e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if !loaded.Tasks[0].IsDone || loaded.Tasks[0].CompletionNotes != "done via capture" {
		t.Errorf("task after update = %+v", loaded.Tasks[0])
	}

	// Wrong owner must not be able to flip another user's task.
	if err := s.UpdateTaskStatus("u2", taskID, false, ""); err != ErrNotFound {
		t.Errorf("cross-owner UpdateTaskStatus: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskFields(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBook(Book{ID: "b1", OwnerID: "u1", Name: "Project X"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	saved, err := s.SaveEntry(Entry{
		ID: "e1", OwnerID: "u1", BookID: "b1", OriginalText: "x",
		Tasks: []Task{{Description: "draft"}},
	})
	if err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	desc := "draft proposal"
	prio := PriorityHigh
	if err := s.UpdateTaskFields("u1", saved.Tasks[0].ID, TaskPatch{Description: &desc, Priority: &prio}); err != nil {
		t.Fatalf("UpdateTaskFields: %v", err)
	}

	loaded, err := s.GetEntry("u1", "e1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	task := loaded.Tasks[0]
	if task.Description != "draft proposal" || task.Priority != PriorityHigh {
		t.Errorf("task after patch = %+v", task)
	}

	// Empty patch is a no-op, not an error.
	if err := s.UpdateTaskFields("u1", saved.Tasks[0].ID, TaskPatch{}); err != nil {
		t.Errorf("empty patch: %v", err)
	}
}

func TestSearchEntries(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBook(Book{ID: "b1", OwnerID: "u1", Name: "Project X"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	entries := []Entry{
		{ID: "e1", OwnerID: "u1", BookID: "b1", OriginalText: "BI model ready", Type: EntryTypeNote},
		{ID: "e2", OwnerID: "u1", BookID: "b1", OriginalText: "risk: vendor delay", Type: EntryTypeRisk},
		{ID: "e3", OwnerID: "u2", BookID: "b1", OriginalText: "BI other owner", Type: EntryTypeNote},
	}
	for _, e := range entries {
		if _, err := s.SaveEntry(e); err != nil {
			t.Fatalf("SaveEntry(%s): %v", e.ID, err)
		}
	}

	got, err := s.SearchEntries("u1", SearchFilters{Text: "bi model"})
	if err != nil {
		t.Fatalf("SearchEntries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" {
		t.Errorf("text search = %+v, want [e1]", ids(got))
	}

	got, err = s.SearchEntries("u1", SearchFilters{Type: EntryTypeRisk})
	if err != nil {
		t.Fatalf("SearchEntries: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e2" {
		t.Errorf("type search = %+v, want [e2]", ids(got))
	}
}

func TestDeleteEntryRemovesChildren(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateBook(Book{ID: "b1", OwnerID: "u1", Name: "Project X"}); err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	if _, err := s.SaveEntry(Entry{
		ID: "e1", OwnerID: "u1", BookID: "b1", OriginalText: "x",
		Tasks:    []Task{{Description: "t"}},
		Entities: []Entity{{Name: "Ana", Type: "person"}},
	}); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	if err := s.DeleteEntry("u1", "e1"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	if _, err := s.GetEntry("u1", "e1"); err != ErrNotFound {
		t.Errorf("GetEntry after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteEntry("u1", "e1"); err != ErrNotFound {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetKV("missing"); err != ErrNotFound {
		t.Errorf("GetKV(missing): err = %v, want ErrNotFound", err)
	}

	if err := s.SetKV("books_u1", `{"data":[]}`); err != nil {
		t.Fatalf("SetKV: %v", err)
	}
	// Upsert overwrites.
	if err := s.SetKV("books_u1", `{"data":[1]}`); err != nil {
		t.Fatalf("SetKV overwrite: %v", err)
	}

	v, err := s.GetKV("books_u1")
	if err != nil {
		t.Fatalf("GetKV: %v", err)
	}
	if v != `{"data":[1]}` {
		t.Errorf("GetKV = %q", v)
	}

	keys, err := s.KVKeys()
	if err != nil {
		t.Fatalf("KVKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "books_u1" {
		t.Errorf("KVKeys = %v", keys)
	}

	if err := s.DeleteKV("books_u1"); err != nil {
		t.Fatalf("DeleteKV: %v", err)
	}
	if _, err := s.GetKV("books_u1"); err != ErrNotFound {
		t.Errorf("GetKV after delete: err = %v, want ErrNotFound", err)
	}
}

func ids(entries []Entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.ID
	}
	return strings.Join(parts, ",")
}
