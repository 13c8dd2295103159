package engine

import (
	"context"
	"time"

	"github.com/ovalle/braindump/internal/classify"
	"github.com/ovalle/braindump/internal/extract"
)

const rewriteTimeout = 30 * time.Second

// spawnContextRewrite refreshes the book's running summary after a new
// entry was filed under it. Fire-and-forget: no caller awaits it, it never
// blocks a commit, and it carries no ordering guarantee relative to
// subsequent reads of the context. Failures are logged and dropped — the
// next commit gets another chance.
func (e *Engine) spawnContextRewrite(bookID, newEntrySummary string) {
	var bookName, current string
	for _, b := range e.state.Books() {
		if b.ID == bookID {
			bookName = b.Name
			current = b.Context
			break
		}
	}
	if bookName == "" {
		return
	}

	e.rewrites.Add(1)
	go func() {
		defer e.rewrites.Done()

		ctx, cancel := context.WithTimeout(context.Background(), rewriteTimeout)
		defer cancel()

		rewritten, err := e.classifier.RewriteContext(ctx, bookName, current, newEntrySummary)
		if err != nil {
			e.logger.Warn("book context rewrite failed", "book_id", bookID, "error", err)
			return
		}
		if err := e.store.UpdateBookContext(e.owner, bookID, rewritten); err != nil {
			e.logger.Warn("persisting rewritten context failed", "book_id", bookID, "error", err)
			return
		}
		e.state.SetBookContext(bookID, rewritten)
		if e.books != nil {
			e.refreshCaches()
		}
	}()
}

// WaitForRewrites blocks until all in-flight context rewrites finish.
// Shutdown and tests only; never called on the commit path.
func (e *Engine) WaitForRewrites() {
	e.rewrites.Wait()
}

// extractAttachmentText pulls readable text out of an attachment, degrading
// to empty on any failure so the capture proceeds on raw text alone.
func extractAttachmentText(att *classify.Attachment) string {
	if att == nil || att.Base64Data == "" {
		return ""
	}
	return extract.TextOrEmpty(att.MimeType, att.Base64Data)
}
