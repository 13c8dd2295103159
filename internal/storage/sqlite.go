package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for books, entries, tasks,
// folders, and the key/value table backing the local cache.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "braindump.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Books ---

func (s *Store) CreateBook(b Book) error {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO books (id, owner_id, name, description, folder_id, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, b.Name, b.Description, b.FolderID, b.Context,
		createdAt.Format(time.RFC3339), "",
	)
	return err
}

func (s *Store) GetBook(ownerID, id string) (Book, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, name, description, folder_id, context, created_at, updated_at
		FROM books WHERE id = ? AND owner_id = ?`, id, ownerID,
	)
	return scanBook(row)
}

// LoadAllBooks returns the owner's books ordered by creation time ascending.
// Resolution tie-breaks depend on this ordering being stable across calls.
func (s *Store) LoadAllBooks(ownerID string) ([]Book, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, name, description, folder_id, context, created_at, updated_at
		FROM books WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// UpdateBookContext replaces the book's running summary. Called by the
// background rewriter after an entry commit.
func (s *Store) UpdateBookContext(ownerID, id, context string) error {
	res, err := s.db.Exec(`UPDATE books SET context = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		context, time.Now().UTC().Format(time.RFC3339), id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (Book, error) {
	var b Book
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Description, &b.FolderID, &b.Context, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Book{}, ErrNotFound
	}
	if err != nil {
		return Book{}, err
	}
	if b.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Book{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if updatedAt != "" {
		if b.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return Book{}, fmt.Errorf("parsing updated_at: %w", err)
		}
	}
	return b, nil
}

// --- Folders ---

func (s *Store) CreateFolder(f Folder) error {
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO folders (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.OwnerID, f.Name, createdAt.Format(time.RFC3339))
	return err
}

func (s *Store) LoadAllFolders(ownerID string) ([]Folder, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, name, created_at FROM folders
		WHERE owner_id = ? ORDER BY created_at ASC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		var f Folder
		var createdAt string
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.Name, &createdAt); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// --- Entries ---

// SaveEntry persists an entry together with its embedded tasks and entities
// in one transaction. Store-assigned task IDs are filled into the returned
// copy; the caller's mutation paths must use those IDs.
func (s *Store) SaveEntry(e Entry) (Entry, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := e.Status
	if status == "" {
		status = EntryStatusCompleted
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Entry{}, fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO entries (id, owner_id, book_id, original_text, attachment_ref, type, summary, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.BookID, e.OriginalText, e.AttachmentRef,
		e.Type, e.Summary, status, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting entry: %w", err)
	}

	for i := range e.Tasks {
		t := &e.Tasks[i]
		t.EntryID = e.ID
		if t.Priority == "" {
			t.Priority = PriorityMedium
		}
		res, err := tx.Exec(`
			INSERT INTO tasks (entry_id, description, assignee, due_date, priority, is_done, completion_notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.EntryID, t.Description, t.Assignee, t.DueDate, t.Priority, boolToInt(t.IsDone), t.CompletionNotes,
		)
		if err != nil {
			return Entry{}, fmt.Errorf("inserting task: %w", err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return Entry{}, fmt.Errorf("reading task id: %w", err)
		}
	}

	for _, en := range e.Entities {
		if _, err := tx.Exec(`INSERT INTO entities (entry_id, name, type) VALUES (?, ?, ?)`,
			e.ID, en.Name, en.Type); err != nil {
			return Entry{}, fmt.Errorf("inserting entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("committing save: %w", err)
	}

	e.Status = status
	e.CreatedAt = createdAt
	return e, nil
}

func (s *Store) GetEntry(ownerID, id string) (Entry, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, book_id, original_text, attachment_ref, type, summary, status, created_at
		FROM entries WHERE id = ? AND owner_id = ?`, id, ownerID,
	)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, err
	}
	if err := s.attachChildren(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (s *Store) LoadAllEntries(ownerID string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, book_id, original_text, attachment_ref, type, summary, status, created_at
		FROM entries WHERE owner_id = ? ORDER BY created_at DESC`, ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		if err := s.attachChildren(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// SearchEntries filters the owner's entries. Text matches substring against
// original_text and summary, case-insensitive.
func (s *Store) SearchEntries(ownerID string, f SearchFilters) ([]Entry, error) {
	query := `SELECT id, owner_id, book_id, original_text, attachment_ref, type, summary, status, created_at
		FROM entries WHERE owner_id = ?`
	args := []any{ownerID}

	if f.BookID != "" {
		query += " AND book_id = ?"
		args = append(args, f.BookID)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Text != "" {
		query += " AND (original_text LIKE ? COLLATE NOCASE OR summary LIKE ? COLLATE NOCASE)"
		pattern := "%" + f.Text + "%"
		args = append(args, pattern, pattern)
	}
	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		if err := s.attachChildren(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// UpdateEntryStatus moves an entry through its lifecycle, optionally
// replacing the summary (used for the degraded error fallback).
func (s *Store) UpdateEntryStatus(ownerID, id, status, summary string) error {
	res, err := s.db.Exec(`UPDATE entries SET status = ?, summary = ? WHERE id = ? AND owner_id = ?`,
		status, summary, id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEntry removes an entry and its tasks and entities.
func (s *Store) DeleteEntry(ownerID, id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM entries WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM tasks WHERE entry_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM entities WHERE entry_id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var createdAt string
	err := row.Scan(&e.ID, &e.OwnerID, &e.BookID, &e.OriginalText, &e.AttachmentRef,
		&e.Type, &e.Summary, &e.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return e, nil
}

func (s *Store) attachChildren(e *Entry) error {
	rows, err := s.db.Query(`
		SELECT id, entry_id, description, assignee, due_date, priority, is_done, completion_notes
		FROM tasks WHERE entry_id = ? ORDER BY id ASC`, e.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t Task
		var done int
		if err := rows.Scan(&t.ID, &t.EntryID, &t.Description, &t.Assignee, &t.DueDate, &t.Priority, &done, &t.CompletionNotes); err != nil {
			return err
		}
		t.IsDone = done != 0
		e.Tasks = append(e.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	erows, err := s.db.Query(`SELECT name, type FROM entities WHERE entry_id = ? ORDER BY id ASC`, e.ID)
	if err != nil {
		return err
	}
	defer erows.Close()
	for erows.Next() {
		var en Entity
		if err := erows.Scan(&en.Name, &en.Type); err != nil {
			return err
		}
		e.Entities = append(e.Entities, en)
	}
	return erows.Err()
}

// --- Tasks ---

// UpdateTaskStatus marks a task done or reopens it, recording completion
// notes. The task must belong to one of the owner's entries.
func (s *Store) UpdateTaskStatus(ownerID string, taskID int64, isDone bool, notes string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET is_done = ?, completion_notes = ?
		WHERE id = ? AND entry_id IN (SELECT id FROM entries WHERE owner_id = ?)`,
		boolToInt(isDone), notes, taskID, ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskFields applies a partial update to a task's editable fields.
func (s *Store) UpdateTaskFields(ownerID string, taskID int64, patch TaskPatch) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 6)
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Assignee != nil {
		sets = append(sets, "assignee = ?")
		args = append(args, *patch.Assignee)
	}
	if patch.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, *patch.DueDate)
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *patch.Priority)
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") +
		" WHERE id = ? AND entry_id IN (SELECT id FROM entries WHERE owner_id = ?)"
	args = append(args, taskID, ownerID)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- KV (cache medium) ---

func (s *Store) SetKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) DeleteKV(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

func (s *Store) KVKeys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
