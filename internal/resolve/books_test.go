package resolve

import (
	"testing"

	"github.com/ovalle/braindump/internal/storage"
)

func TestResolveBookExact(t *testing.T) {
	books := []storage.Book{
		{ID: "b1", Name: "Project X"},
		{ID: "b2", Name: "Personal"},
	}

	tests := []struct {
		name     string
		proposed string
		wantID   string
	}{
		{"same case", "Project X", "b1"},
		{"different case", "project x", "b1"},
		{"surrounding whitespace", "  Personal  ", "b2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveBook(tt.proposed, books)
			if !ok {
				t.Fatalf("ResolveBook(%q) = no match, want %s", tt.proposed, tt.wantID)
			}
			if got.ID != tt.wantID {
				t.Errorf("ResolveBook(%q) = %s, want %s", tt.proposed, got.ID, tt.wantID)
			}
		})
	}
}

func TestResolveBookFuzzy(t *testing.T) {
	books := []storage.Book{
		{ID: "b1", Name: "Andina Rollout", Context: "BI model, dashboards, vendor follow-ups"},
		{ID: "b2", Name: "Health"},
	}

	tests := []struct {
		name     string
		proposed string
		wantID   string
		wantOK   bool
	}{
		{"token in book name", "Andina status", "b1", true},
		{"token in book context", "dashboards review", "b1", true},
		{"proposed contains book name", "Health tracking plan", "b2", true},
		// "and" is a significant token (>2 chars) and substring-matches
		// "Andina Rollout"; the earlier book wins by list order.
		{"first matching book wins", "Health and fitness plan", "b1", true},
		{"book name contains proposed", "Rollout", "b1", true},
		{"short tokens ignored", "go to it", "", false},
		{"no overlap", "Quarterly taxes", "", false},
		{"empty name", "   ", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveBook(tt.proposed, books)
			if ok != tt.wantOK {
				t.Fatalf("ResolveBook(%q) ok = %v, want %v", tt.proposed, ok, tt.wantOK)
			}
			if ok && got.ID != tt.wantID {
				t.Errorf("ResolveBook(%q) = %s, want %s", tt.proposed, got.ID, tt.wantID)
			}
		})
	}
}

func TestResolveBookExactBeatsFuzzy(t *testing.T) {
	// A later exact match must win over an earlier fuzzy one.
	books := []storage.Book{
		{ID: "b1", Name: "Project X archive", Context: ""},
		{ID: "b2", Name: "Project X"},
	}
	got, ok := ResolveBook("project x", books)
	if !ok || got.ID != "b2" {
		t.Errorf("ResolveBook = %v/%v, want b2", got.ID, ok)
	}
}

func TestResolveBookFirstMatchWins(t *testing.T) {
	// Two equally plausible fuzzy candidates: list order decides.
	books := []storage.Book{
		{ID: "b1", Name: "Andina North"},
		{ID: "b2", Name: "Andina South"},
	}
	got, ok := ResolveBook("Andina report", books)
	if !ok || got.ID != "b1" {
		t.Errorf("ResolveBook = %v/%v, want first candidate b1", got.ID, ok)
	}
}

func TestResolveBookDeterministic(t *testing.T) {
	books := []storage.Book{
		{ID: "b1", Name: "Andina Rollout", Context: "BI model"},
		{ID: "b2", Name: "Personal"},
	}
	first, ok1 := ResolveBook("BI model status", books)
	second, ok2 := ResolveBook("BI model status", books)
	if ok1 != ok2 || first.ID != second.ID {
		t.Errorf("resolution not deterministic: (%s,%v) then (%s,%v)", first.ID, ok1, second.ID, ok2)
	}
}
