// Package engine orchestrates the capture pipeline: classify raw content,
// resolve the result against existing books and open tasks, stage it for
// confirmation, and commit confirmed topics with optimistic local-state
// updates that roll back on store failure. Nothing a user has not confirmed
// reaches the store; nothing a user captured is ever silently lost.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ovalle/braindump/internal/cache"
	"github.com/ovalle/braindump/internal/classify"
	"github.com/ovalle/braindump/internal/resolve"
	"github.com/ovalle/braindump/internal/storage"
)

// Capture lifecycle states.
const (
	StateCaptured    = "captured"
	StateClassifying = "classifying"
	StateStaged      = "staged"
	StateCommitting  = "committing"
	StateCommitted   = "committed"
	StateDiscarded   = "discarded"
	StateError       = "error"
)

// degradedSummary replaces the summary of a placeholder whose classification
// failed. The original text stays on the entry.
const degradedSummary = "failed to process, saved raw"

const recentEntriesLimit = 10

// ErrNotStaged is returned when a confirm or discard names an entry ID with
// no staged topic behind it.
var ErrNotStaged = errors.New("no staged topic for entry")

// Classifier is the external classification service boundary.
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) (classify.Response, error)
	RewriteContext(ctx context.Context, bookName, currentContext, newEntrySummary string) (string, error)
}

// Store is the narrow persistent-store interface the engine consumes.
// Implemented by storage.Store.
type Store interface {
	CreateBook(b storage.Book) error
	SaveEntry(e storage.Entry) (storage.Entry, error)
	UpdateTaskStatus(ownerID string, taskID int64, isDone bool, notes string) error
	UpdateTaskFields(ownerID string, taskID int64, patch storage.TaskPatch) error
	DeleteEntry(ownerID, id string) error
	UpdateBookContext(ownerID, id, context string) error
	LoadAllBooks(ownerID string) ([]storage.Book, error)
	LoadAllEntries(ownerID string) ([]storage.Entry, error)
	LoadAllFolders(ownerID string) ([]storage.Folder, error)
	SearchEntries(ownerID string, f storage.SearchFilters) ([]storage.Entry, error)
}

// Capture tracks one capture's progress through the state machine.
type Capture struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	EntryID   string    `json:"entryId"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CaptureInput is the raw material of one capture.
type CaptureInput struct {
	RawText    string
	Attachment *classify.Attachment
}

// CaptureResult reports what a capture produced: staged topics awaiting
// confirmation, task completions applied immediately, or an error
// placeholder.
type CaptureResult struct {
	CaptureID        string        `json:"captureId"`
	State            string        `json:"state"`
	EntryID          string        `json:"entryId"`
	Staged           []StagedTopic `json:"staged,omitempty"`
	CompletedTaskIDs []int64       `json:"completedTaskIds,omitempty"`
}

// TopicResult is the per-topic outcome of a confirmation batch. Partial
// success is expected: one topic's failure does not touch its siblings.
type TopicResult struct {
	EntryID          string  `json:"entryId"`
	BookID           string  `json:"bookId,omitempty"`
	CompletedTaskIDs []int64 `json:"completedTaskIds,omitempty"`
	Err              error   `json:"-"`
	ErrMessage       string  `json:"error,omitempty"`
}

// Engine wires the capture pipeline together for a single owner.
type Engine struct {
	owner      string
	store      Store
	classifier Classifier
	state      *State
	staging    *StagingArea
	books      *cache.Cache[[]storage.Book]
	entries    *cache.Cache[[]storage.Entry]
	logger     *slog.Logger

	// commitMu serializes optimistic mutations so a snapshot taken before a
	// store call is not polluted by a concurrent commit. It does not order
	// business outcomes: two captures completing the same open task remain
	// a documented last-writer-wins race.
	commitMu sync.Mutex

	capMu    sync.Mutex
	captures map[string]*Capture

	// rewrites tracks detached context rewrites so shutdown and tests can
	// wait for them. Nothing on the commit path ever does.
	rewrites sync.WaitGroup
}

// New creates an Engine for the given owner. Caches may be nil, in which
// case reads always go to the store.
func New(owner string, store Store, classifier Classifier, books *cache.Cache[[]storage.Book], entries *cache.Cache[[]storage.Entry]) *Engine {
	return &Engine{
		owner:      owner,
		store:      store,
		classifier: classifier,
		state:      NewState(),
		staging:    NewStagingArea(),
		books:      books,
		entries:    entries,
		logger:     slog.Default(),
		captures:   make(map[string]*Capture),
	}
}

// Warm loads books, entries, and folders from the store into memory and
// cache. Called once at startup; failures are non-fatal (the first read
// will retry).
func (e *Engine) Warm(ctx context.Context) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		books, err := e.store.LoadAllBooks(e.owner)
		if err != nil {
			return fmt.Errorf("loading books: %w", err)
		}
		e.state.ReplaceBooks(books)
		if e.books != nil {
			e.books.Set(cache.Key("books", e.owner), books)
		}
		return nil
	})
	g.Go(func() error {
		entries, err := e.store.LoadAllEntries(e.owner)
		if err != nil {
			return fmt.Errorf("loading entries: %w", err)
		}
		e.state.MergeEntries(entries)
		if e.entries != nil {
			e.entries.Set(cache.Key("entries", e.owner), entries)
		}
		return nil
	})
	g.Go(func() error {
		folders, err := e.store.LoadAllFolders(e.owner)
		if err != nil {
			return fmt.Errorf("loading folders: %w", err)
		}
		e.state.ReplaceFolders(folders)
		return nil
	})
	if err := g.Wait(); err != nil {
		e.logger.Warn("warm-up load failed", "error", err)
	}
}

// Capture runs the pipeline up to its human-in-the-loop suspension point:
// classify, resolve, stage. A placeholder entry appears in memory
// immediately. Captures that resolve purely to task completions commit on
// the spot and never stage. Classification is never retried; on failure the
// placeholder flips to the error state with the raw text preserved, and the
// result carries the error state alongside the returned error.
func (e *Engine) Capture(ctx context.Context, in CaptureInput) (CaptureResult, error) {
	captureID := uuid.New().String()
	entryID := uuid.New().String()

	rawText := in.RawText
	attachmentRef := ""
	if in.Attachment != nil {
		attachmentRef = in.Attachment.FileName
		if extracted := extractAttachmentText(in.Attachment); extracted != "" {
			if rawText != "" {
				rawText += "\n\n"
			}
			rawText += extracted
		}
	}

	e.trackCapture(&Capture{ID: captureID, State: StateCaptured, EntryID: entryID, CreatedAt: time.Now().UTC()})

	// Optimistic placeholder: visible immediately, not persisted.
	e.state.UpsertEntry(storage.Entry{
		ID:            entryID,
		OwnerID:       e.owner,
		OriginalText:  in.RawText,
		AttachmentRef: attachmentRef,
		Type:          storage.EntryTypeNote,
		Status:        storage.EntryStatusProcessing,
		CreatedAt:     time.Now().UTC(),
	})

	e.setCaptureState(captureID, StateClassifying, "")

	req := e.buildClassifyRequest(rawText, in.Attachment)
	resp, err := e.classifier.Classify(ctx, req)
	if err != nil {
		e.state.SetEntryError(entryID, degradedSummary)
		e.setCaptureState(captureID, StateError, err.Error())
		return CaptureResult{CaptureID: captureID, State: StateError, EntryID: entryID}, err
	}

	return e.routeTopics(captureID, entryID, in.RawText, attachmentRef, resp)
}

// routeTopics resolves classification output into staged topics and
// immediately-applied task actions.
func (e *Engine) routeTopics(captureID, entryID, originalText, attachmentRef string, resp classify.Response) (CaptureResult, error) {
	books := e.state.Books()

	var staged []StagedTopic
	var pendingActions []classify.TaskAction

	for _, topic := range resp.Topics {
		if isActionOnly(topic) {
			pendingActions = append(pendingActions, topic.TaskActions...)
			continue
		}

		st := StagedTopic{
			EntryID:       entryID,
			CaptureID:     captureID,
			BookName:      topic.TargetBookName,
			Type:          normalizeEntryType(topic.Type),
			Summary:       topic.Summary,
			OriginalText:  originalText,
			AttachmentRef: attachmentRef,
			TaskActions:   topic.TaskActions,
		}
		// The first topic reuses the capture's placeholder id; extra topics
		// of a multi-topic capture get their own placeholder each.
		if len(staged) > 0 {
			st.EntryID = uuid.New().String()
			e.state.UpsertEntry(storage.Entry{
				ID:           st.EntryID,
				OwnerID:      e.owner,
				OriginalText: originalText,
				Type:         st.Type,
				Summary:      st.Summary,
				Status:       storage.EntryStatusProcessing,
				CreatedAt:    time.Now().UTC(),
			})
		}

		if matched, ok := resolve.ResolveBook(topic.TargetBookName, books); ok {
			st.BookID = matched.ID
			st.BookName = matched.Name
		} else {
			st.BookID = uuid.New().String()
			st.IsNewBook = true
		}

		for _, pt := range topic.Tasks {
			st.Tasks = append(st.Tasks, storage.Task{
				Description: pt.Description,
				Assignee:    pt.Assignee,
				DueDate:     pt.DueDate,
				Priority:    normalizePriority(pt.Priority),
			})
		}
		for _, pe := range topic.Entities {
			st.Entities = append(st.Entities, storage.Entity{Name: pe.Name, Type: pe.Type})
		}

		staged = append(staged, st)
	}

	// Actions from action-only topics apply immediately; they create
	// nothing, so there is nothing to confirm.
	completed := e.applyTaskActions(pendingActions)

	if len(staged) == 0 {
		// Pure update capture: terminal, no staged topic, placeholder gone.
		e.state.RemoveEntry(entryID)
		e.setCaptureState(captureID, StateCommitted, "")
		return CaptureResult{
			CaptureID:        captureID,
			State:            StateCommitted,
			EntryID:          entryID,
			CompletedTaskIDs: completed,
		}, nil
	}

	for _, st := range staged {
		e.staging.Put(st)
	}
	e.setCaptureState(captureID, StateStaged, "")
	return CaptureResult{
		CaptureID:        captureID,
		State:            StateStaged,
		EntryID:          entryID,
		Staged:           staged,
		CompletedTaskIDs: completed,
	}, nil
}

// Confirm commits staged topics, possibly edited by the user since staging.
// Each topic commits independently: a failed topic is reported in its
// result and stays staged, while siblings that committed stay committed.
func (e *Engine) Confirm(ctx context.Context, topics []StagedTopic) []TopicResult {
	results := make([]TopicResult, 0, len(topics))
	for _, t := range topics {
		res := e.commitTopic(ctx, t)
		if res.Err != nil {
			res.ErrMessage = res.Err.Error()
		}
		results = append(results, res)
	}
	return results
}

// ConfirmStaged commits staged topics by entry ID, as staged, without edits.
func (e *Engine) ConfirmStaged(ctx context.Context, entryIDs []string) []TopicResult {
	topics := make([]StagedTopic, 0, len(entryIDs))
	for _, id := range entryIDs {
		if t, ok := e.staging.Get(id); ok {
			topics = append(topics, t)
		} else {
			topics = append(topics, StagedTopic{EntryID: id})
		}
	}
	return e.Confirm(ctx, topics)
}

func (e *Engine) commitTopic(ctx context.Context, t StagedTopic) TopicResult {
	staged, ok := e.staging.Get(t.EntryID)
	if !ok {
		return TopicResult{EntryID: t.EntryID, Err: ErrNotStaged}
	}
	// The caller may have edited presentation fields; identity and capture
	// linkage always come from the staging area.
	t.CaptureID = staged.CaptureID
	if t.OriginalText == "" {
		t.OriginalText = staged.OriginalText
	}
	if t.AttachmentRef == "" {
		t.AttachmentRef = staged.AttachmentRef
	}
	if t.BookID == "" {
		t.BookID = staged.BookID
		t.IsNewBook = staged.IsNewBook
	}
	if t.BookName == "" {
		t.BookName = staged.BookName
	}

	e.setCaptureState(t.CaptureID, StateCommitting, "")

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	snapshot := e.state.Snapshot()

	if t.IsNewBook {
		book := storage.Book{
			ID:        t.BookID,
			OwnerID:   e.owner,
			Name:      t.BookName,
			CreatedAt: time.Now().UTC(),
		}
		e.state.AddBook(book)
		if err := withOneRetry(func() error { return e.store.CreateBook(book) }); err != nil {
			e.state.Restore(snapshot)
			e.setCaptureState(t.CaptureID, StateStaged, "")
			return TopicResult{EntryID: t.EntryID, Err: fmt.Errorf("creating book: %w", err)}
		}
	}

	entry := storage.Entry{
		ID:            t.EntryID,
		OwnerID:       e.owner,
		BookID:        t.BookID,
		OriginalText:  t.OriginalText,
		AttachmentRef: t.AttachmentRef,
		Type:          t.Type,
		Summary:       t.Summary,
		Status:        storage.EntryStatusCompleted,
		Tasks:         t.Tasks,
		Entities:      t.Entities,
		CreatedAt:     time.Now().UTC(),
	}
	e.state.UpsertEntry(entry)

	saved, err := saveWithOneRetry(e.store, entry)
	if err != nil {
		// The staged topic stays visible: failure is reported, never hidden.
		e.state.Restore(snapshot)
		e.setCaptureState(t.CaptureID, StateStaged, "")
		return TopicResult{EntryID: t.EntryID, Err: fmt.Errorf("saving entry: %w", err)}
	}
	// Swap in the saved copy so store-assigned task IDs land in memory.
	e.state.UpsertEntry(saved)

	completed := e.applyTaskActionsLocked(t.TaskActions)

	e.staging.Remove(t.EntryID)
	if len(e.staging.ByCapture(t.CaptureID)) == 0 {
		e.setCaptureState(t.CaptureID, StateCommitted, "")
	}

	e.refreshCaches()
	e.spawnContextRewrite(t.BookID, saved.Summary)

	return TopicResult{EntryID: t.EntryID, BookID: t.BookID, CompletedTaskIDs: completed}
}

// Discard drops a staged topic and removes its optimistic placeholder from
// view. No store call is made.
func (e *Engine) Discard(entryID string) error {
	t, ok := e.staging.Remove(entryID)
	if !ok {
		return ErrNotStaged
	}
	e.state.RemoveEntry(entryID)
	if len(e.staging.ByCapture(t.CaptureID)) == 0 {
		e.setCaptureState(t.CaptureID, StateDiscarded, "")
	}
	return nil
}

// UpdateTask applies a partial edit to a task's editable fields,
// optimistically in memory with the store write retried once. The in-memory
// patch is rolled back if the store rejects it.
func (e *Engine) UpdateTask(ctx context.Context, taskID int64, patch storage.TaskPatch) error {
	if taskID == 0 {
		return storage.ErrNotFound
	}
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	snapshot := e.state.Snapshot()
	e.state.PatchTask(taskID, patch)
	err := withOneRetry(func() error {
		return e.store.UpdateTaskFields(e.owner, taskID, patch)
	})
	if err != nil {
		e.state.Restore(snapshot)
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("updating task %d: %w", taskID, err)
	}
	e.refreshCaches()
	return nil
}

// DeleteEntry removes an entry from store and memory. Staged topics for the
// entry are dropped too. An entry that exists only in memory (an unpersisted
// placeholder) is removed locally without a store error.
func (e *Engine) DeleteEntry(ctx context.Context, entryID string) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	_, inMemory := e.state.Entry(entryID)
	snapshot := e.state.Snapshot()
	e.state.RemoveEntry(entryID)
	e.staging.Remove(entryID)
	err := withOneRetry(func() error {
		return e.store.DeleteEntry(e.owner, entryID)
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if inMemory {
				e.refreshCaches()
				return nil
			}
			e.state.Restore(snapshot)
			return storage.ErrNotFound
		}
		e.state.Restore(snapshot)
		return fmt.Errorf("deleting entry: %w", err)
	}
	e.refreshCaches()
	return nil
}

// Staged lists all topics pending confirmation.
func (e *Engine) Staged() []StagedTopic {
	return e.staging.List()
}

// CaptureStatus returns the tracked state of a capture.
func (e *Engine) CaptureStatus(captureID string) (Capture, bool) {
	e.capMu.Lock()
	defer e.capMu.Unlock()
	c, ok := e.captures[captureID]
	if !ok {
		return Capture{}, false
	}
	return *c, true
}

// Books returns the owner's books: the cached copy instantly when present,
// with an unconditional background refresh from the store overwriting cache
// and memory (stale-while-revalidate). Without a cached copy the load is
// synchronous.
func (e *Engine) Books(ctx context.Context) ([]storage.Book, error) {
	key := cache.Key("books", e.owner)
	if e.books != nil {
		if cached, ok := e.books.Get(key); ok {
			go e.refreshBooks()
			return cached, nil
		}
	}
	books, err := e.store.LoadAllBooks(e.owner)
	if err != nil {
		return nil, fmt.Errorf("loading books: %w", err)
	}
	e.state.ReplaceBooks(books)
	if e.books != nil {
		e.books.Set(key, books)
	}
	return books, nil
}

// Entries returns the owner's entries with the same stale-while-revalidate
// discipline as Books. Unpersisted placeholders stay visible across
// refreshes.
func (e *Engine) Entries(ctx context.Context) ([]storage.Entry, error) {
	key := cache.Key("entries", e.owner)
	if e.entries != nil {
		if _, ok := e.entries.Get(key); ok {
			go e.refreshEntries()
			return e.state.Entries(), nil
		}
	}
	entries, err := e.store.LoadAllEntries(e.owner)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}
	e.state.MergeEntries(entries)
	if e.entries != nil {
		e.entries.Set(key, entries)
	}
	return e.state.Entries(), nil
}

// SearchEntries queries the store directly; search results are not cached.
func (e *Engine) SearchEntries(ctx context.Context, f storage.SearchFilters) ([]storage.Entry, error) {
	return e.store.SearchEntries(e.owner, f)
}

// --- internals ---

func (e *Engine) refreshBooks() {
	books, err := e.store.LoadAllBooks(e.owner)
	if err != nil {
		e.logger.Warn("background book refresh failed", "error", err)
		return
	}
	e.state.ReplaceBooks(books)
	if e.books != nil {
		e.books.Set(cache.Key("books", e.owner), books)
	}
}

func (e *Engine) refreshEntries() {
	entries, err := e.store.LoadAllEntries(e.owner)
	if err != nil {
		e.logger.Warn("background entry refresh failed", "error", err)
		return
	}
	e.state.MergeEntries(entries)
	if e.entries != nil {
		e.entries.Set(cache.Key("entries", e.owner), entries)
	}
}

func (e *Engine) refreshCaches() {
	if e.books != nil {
		e.books.Set(cache.Key("books", e.owner), e.state.Books())
	}
	if e.entries != nil {
		e.entries.Set(cache.Key("entries", e.owner), e.state.Entries())
	}
}

// applyTaskActions resolves and applies completion actions against the
// current open tasks. Unmatched actions are dropped by policy. Each store
// mutation is retried once; on final failure the optimistic toggle is
// reverted and the action skipped.
func (e *Engine) applyTaskActions(actions []classify.TaskAction) []int64 {
	if len(actions) == 0 {
		return nil
	}
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	return e.applyTaskActionsLocked(actions)
}

func (e *Engine) applyTaskActionsLocked(actions []classify.TaskAction) []int64 {
	var completed []int64
	for _, action := range actions {
		if action.Action != classify.ActionComplete {
			// Update actions carry no completion semantics; field edits go
			// through the task-edit path, not through capture.
			continue
		}
		task, ok := resolve.MatchOpenTask(action.TaskDescription, e.state.OpenTasks())
		if !ok {
			e.logger.Debug("task action matched nothing, dropped", "description", action.TaskDescription)
			continue
		}
		if task.ID == 0 {
			// Not durably written yet; there is nothing to update.
			e.logger.Debug("task action matched unsaved task, dropped", "description", action.TaskDescription)
			continue
		}

		snapshot := e.state.Snapshot()
		e.state.MarkTaskDone(task.ID, action.CompletionNotes)
		err := withOneRetry(func() error {
			return e.store.UpdateTaskStatus(e.owner, task.ID, true, action.CompletionNotes)
		})
		if err != nil {
			e.state.Restore(snapshot)
			e.logger.Warn("task completion failed, reverted", "task_id", task.ID, "error", err)
			continue
		}
		completed = append(completed, task.ID)
	}
	return completed
}

func (e *Engine) buildClassifyRequest(rawText string, att *classify.Attachment) classify.Request {
	books := e.state.Books()
	booksSummary := make([]string, 0, len(books))
	for _, b := range books {
		line := b.Name
		if b.Context != "" {
			line += ": " + b.Context
		}
		booksSummary = append(booksSummary, line)
	}

	open := e.state.OpenTasks()
	tasksSummary := make([]string, 0, len(open))
	for _, t := range open {
		line := t.Description
		if t.Assignee != "" {
			line += " (assignee: " + t.Assignee + ")"
		}
		if t.DueDate != "" {
			line += " (due: " + t.DueDate + ")"
		}
		tasksSummary = append(tasksSummary, line)
	}

	entries := e.state.Entries()
	recent := make([]string, 0, recentEntriesLimit)
	for _, en := range entries {
		if en.Status != storage.EntryStatusCompleted {
			continue
		}
		line := en.Summary
		if line == "" {
			line = snippet(en.OriginalText, 120)
		}
		recent = append(recent, line)
		if len(recent) == recentEntriesLimit {
			break
		}
	}

	return classify.Request{
		RawText:                  rawText,
		Attachment:               att,
		ExistingBooksSummary:     booksSummary,
		ExistingOpenTasksSummary: tasksSummary,
		RecentEntriesSummary:     recent,
	}
}

func (e *Engine) trackCapture(c *Capture) {
	e.capMu.Lock()
	defer e.capMu.Unlock()
	e.captures[c.ID] = c
}

func (e *Engine) setCaptureState(captureID, state, errMsg string) {
	e.capMu.Lock()
	defer e.capMu.Unlock()
	if c, ok := e.captures[captureID]; ok {
		c.State = state
		c.Error = errMsg
	}
}

func isActionOnly(t classify.Topic) bool {
	return len(t.TaskActions) > 0 && len(t.Tasks) == 0 && t.Summary == "" && t.TargetBookName == ""
}

func normalizeEntryType(t string) string {
	switch strings.ToLower(t) {
	case storage.EntryTypeTask, storage.EntryTypeDecision, storage.EntryTypeIdea, storage.EntryTypeRisk:
		return strings.ToLower(t)
	default:
		return storage.EntryTypeNote
	}
}

func normalizePriority(p string) string {
	switch strings.ToLower(p) {
	case storage.PriorityLow, storage.PriorityHigh:
		return strings.ToLower(p)
	default:
		return storage.PriorityMedium
	}
}

// snippet trims s to at most max bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

// withOneRetry runs fn, retrying exactly once on failure.
func withOneRetry(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

func saveWithOneRetry(store Store, entry storage.Entry) (storage.Entry, error) {
	saved, err := store.SaveEntry(entry)
	if err != nil {
		return store.SaveEntry(entry)
	}
	return saved, nil
}
