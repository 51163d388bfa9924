package session

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"memoai/internal/api"
	"memoai/internal/apperr"
)

const (
	referenceRows      = 10
	referenceCellLimit = 100
	referenceBlockMax  = 500
	referenceTotal     = 2000

	referenceOpen  = "<reference: existing entries>"
	referenceClose = "</reference: existing entries>"
)

// ReferenceContext summarizes the current target's existing content for the
// prompt. Any failure yields an empty context.
func (o *Orchestrator) ReferenceContext(ctx context.Context) string {
	cur := o.cfg.Selection.Current()
	if cur.ID == "" {
		return ""
	}
	content, err := o.cfg.Backend.Content(ctx, cur.ID, cur.Kind)
	if err != nil {
		o.cfg.Logger.Warn().Err(err).Str("target", cur.ID).Msg("reference content")
		return ""
	}
	return FormatReference(content)
}

// FormatReference renders content the way the backend expects reference
// context. Empty content gives an empty string.
func FormatReference(content api.Content) string {
	var b strings.Builder
	if content.Type == api.KindDatabase {
		rows := content.Rows
		if len(rows) > referenceRows {
			rows = rows[:referenceRows]
		}
		for i, row := range rows {
			for _, key := range rowKeys(content.Columns, row) {
				if key == "id" {
					continue
				}
				v, ok := row[key]
				if !ok {
					continue
				}
				s := "null"
				if v != nil {
					s = cellString(v)
				}
				if s = apperr.Truncate(s, referenceCellLimit); s != "" {
					fmt.Fprintf(&b, "%s: %s\n", key, s)
				}
			}
			if i < len(rows)-1 {
				b.WriteString("---\n")
			}
		}
	} else {
		for _, block := range content.Blocks {
			if s := apperr.Truncate(block.Content, referenceBlockMax); s != "" {
				b.WriteString(s)
				b.WriteString("\n")
			}
		}
	}

	text := apperr.Truncate(b.String(), referenceTotal)
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return referenceOpen + "\n" + text + "\n" + referenceClose
}

// rowKeys lists the columns in declared order, then any extra keys sorted.
func rowKeys(columns []string, row map[string]any) []string {
	keys := make([]string, 0, len(row))
	seen := map[string]bool{}
	for _, c := range columns {
		if _, ok := row[c]; ok && !seen[c] {
			keys = append(keys, c)
			seen[c] = true
		}
	}
	var extra []string
	for k := range row {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func cellString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, cellString(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
