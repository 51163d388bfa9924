package session

import (
	"strings"
	"testing"

	"memoai/internal/api"
)

func TestFormatReferenceDatabase(t *testing.T) {
	rows := make([]map[string]any, 0, 12)
	for i := 0; i < 12; i++ {
		rows = append(rows, map[string]any{"id": "x", "Name": "row", "Tags": []any{"a", "b"}, "Empty": nil})
	}
	got := FormatReference(api.Content{Type: api.KindDatabase, Columns: []string{"Name", "Tags"}, Rows: rows})

	if !strings.HasPrefix(got, referenceOpen+"\nName: row\nTags: a,b\nEmpty: null\n---\n") {
		t.Fatalf("unexpected reference %q", got)
	}
	if strings.Contains(got, "id:") {
		t.Fatalf("id must be skipped: %q", got)
	}
	if n := strings.Count(got, "---"); n != 9 {
		t.Fatalf("expected 9 separators for 10 rows, got %d", n)
	}
}

func TestFormatReferenceTruncates(t *testing.T) {
	blocks := []api.Block{{Type: "paragraph", Content: strings.Repeat("p", 700)}}
	for i := 0; i < 6; i++ {
		blocks = append(blocks, api.Block{Type: "paragraph", Content: strings.Repeat("q", 400)})
	}
	got := FormatReference(api.Content{Type: api.KindPage, Blocks: blocks})
	body := strings.TrimSuffix(strings.TrimPrefix(got, referenceOpen+"\n"), "\n"+referenceClose)

	if len(body) != 2000 {
		t.Fatalf("expected 2000 chars, got %d", len(body))
	}
	if !strings.HasPrefix(body, strings.Repeat("p", 500)+"\n") {
		t.Fatalf("first block must be cut to 500 chars")
	}
}

func TestFormatReferenceEmpty(t *testing.T) {
	if got := FormatReference(api.Content{Type: api.KindPage}); got != "" {
		t.Fatalf("expected empty reference, got %q", got)
	}
	rows := []map[string]any{{"id": "only"}}
	if got := FormatReference(api.Content{Type: api.KindDatabase, Rows: rows}); got != "" {
		t.Fatalf("expected empty reference, got %q", got)
	}
}
