package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"memoai/internal/api"
	"memoai/internal/chat"
	"memoai/internal/form"
	"memoai/internal/status"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	aiStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("212")).
		Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Italic(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)
)

// ModelDisplay maps a model id to its display name.
type ModelDisplay func(id string) string

func History(entries []chat.Entry, showModelInfo bool, display ModelDisplay) string {
	return historyFrom(entries, 0, showModelInfo, display)
}

// HistoryTail renders the last n entries, numbered by their position in the
// full history.
func HistoryTail(entries []chat.Entry, n int, showModelInfo bool, display ModelDisplay) string {
	start := len(entries) - n
	if start < 0 {
		start = 0
	}
	return historyFrom(entries[start:], start, showModelInfo, display)
}

func historyFrom(entries []chat.Entry, offset int, showModelInfo bool, display ModelDisplay) string {
	if len(entries) == 0 {
		return dimStyle.Render("(no messages)")
	}
	var b strings.Builder
	for i, e := range entries {
		prefix := fmt.Sprintf("#%d ", offset+i+1)
		body := chat.PlainText(e.Body)
		switch e.Kind {
		case chat.KindUser:
			b.WriteString(dimStyle.Render(prefix) + userStyle.Render("you") + "  " + body)
		case chat.KindAI:
			b.WriteString(dimStyle.Render(prefix) + aiStyle.Render("ai") + "   " + body)
		default:
			b.WriteString(dimStyle.Render(prefix) + systemStyle.Render(body))
		}
		b.WriteString("\n")
		if e.Kind == chat.KindAI && showModelInfo && e.ModelInfo != nil {
			b.WriteString("      " + dimStyle.Render(ModelInfoLine(e.ModelInfo, display)) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ModelInfoLine is "Model: X | Cost: $c | Tokens: n"; cost and tokens are
// left out when zero.
func ModelInfoLine(info *chat.ModelInfo, display ModelDisplay) string {
	name := info.Model
	if display != nil {
		name = display(info.Model)
	}
	line := "Model: " + name
	if info.Cost != 0 {
		line += fmt.Sprintf(" | Cost: $%.5f", info.Cost)
	}
	if info.Usage != nil && info.Usage.TotalTokens > 0 {
		line += fmt.Sprintf(" | Tokens: %d", info.Usage.TotalTokens)
	}
	return line
}

func Status(s status.Status) string {
	if !s.Visible {
		return ""
	}
	label := strings.TrimSpace(s.Icon + " " + s.Label)
	switch s.Phase {
	case status.PhaseFailed:
		label = errorStyle.Render(label)
	case status.PhaseCompleted:
		label = okStyle.Render(label)
	}
	if len(s.Detail) == 0 {
		return label
	}
	b, err := json.Marshal(s.Detail)
	if err != nil {
		return label
	}
	return label + " " + dimStyle.Render(string(b))
}

func Toast(msg string) string {
	return warnStyle.Render("» " + msg)
}

func Cost(total float64) string {
	return dimStyle.Render(fmt.Sprintf("session cost $%.5f", total))
}

func Targets(targets []api.Target, currentID string) string {
	if len(targets) == 0 {
		return headerStyle.Render("No targets found")
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%d target(s)", len(targets))) + "\n")
	for _, t := range targets {
		marker := "  "
		if t.ID == currentID {
			marker = okStyle.Render("▶ ")
		}
		kind := "Page"
		if t.Type == api.KindDatabase {
			kind = "DB"
		}
		fmt.Fprintf(&b, "%s[%s] %s %s\n", marker, kind, t.Title, dimStyle.Render(t.ID))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Models lists the auto entry with both defaults, then every model as
// "[provider] name", with a camera mark for vision support.
func Models(cat api.ModelCatalog, selected string, display ModelDisplay) string {
	var b strings.Builder
	check := func(on bool) string {
		if on {
			return okStyle.Render("✓ ")
		}
		return "  "
	}
	orUnknown := func(id string) string {
		if id == "" {
			return "Unknown"
		}
		return display(id)
	}

	b.WriteString(check(selected == "") + "✨ Auto (recommended)\n")
	b.WriteString("     📝 text:  " + orUnknown(cat.Defaults.Text) + "\n")
	b.WriteString("     🖼️ image: " + orUnknown(cat.Defaults.Multimodal) + "\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", 40)) + "\n")
	for _, m := range cat.All {
		name := fmt.Sprintf("[%s] %s", m.Provider, m.Name)
		if m.SupportsVision {
			name += " 📷"
		}
		b.WriteString(check(m.ID == selected) + name + " " + dimStyle.Render(m.ID) + "\n")
		if m.RateLimitNote != "" {
			b.WriteString("     " + warnStyle.Render("⚠️ "+m.RateLimitNote) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// SortColumns moves Title/Name columns to the front, keeping the rest in
// order.
func SortColumns(cols []string) []string {
	out := append([]string(nil), cols...)
	sort.SliceStable(out, func(i, j int) bool {
		return isTitleColumn(out[i]) && !isTitleColumn(out[j])
	})
	return out
}

func isTitleColumn(c string) bool {
	c = strings.ToLower(c)
	return c == "title" || c == "name"
}

func DatabaseTable(c api.Content) string {
	if len(c.Columns) == 0 {
		return dimStyle.Render("(no entries)")
	}
	cols := SortColumns(c.Columns)
	rows := make([][]string, 0, len(c.Rows))
	for _, r := range c.Rows {
		row := make([]string, len(cols))
		for i, col := range cols {
			if v, ok := r[col]; ok && v != nil {
				row[i] = fmt.Sprint(v)
			}
		}
		rows = append(rows, row)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(cols...).
		Rows(rows...)
	return t.String()
}

func PageBlocks(blocks []api.Block) string {
	if len(blocks) == 0 {
		return dimStyle.Render("(empty)")
	}
	var b strings.Builder
	for _, bl := range blocks {
		switch bl.Type {
		case "heading_1", "heading_2", "heading_3":
			b.WriteString(headerStyle.Render(bl.Content))
		case "bulleted_list_item":
			b.WriteString("• " + bl.Content)
		case "to_do":
			b.WriteString("☐ " + bl.Content)
		default:
			b.WriteString(bl.Content)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Form shows the current property widgets and their values.
func Form(widgets []form.Widget) string {
	if len(widgets) == 0 {
		return dimStyle.Render("(no properties)")
	}
	var b strings.Builder
	for _, w := range widgets {
		val := ""
		switch w.Kind {
		case form.WidgetChoice:
			val = strings.Join(w.Selected, ", ")
			var opts []string
			for _, o := range w.Options {
				if o.Value != "" {
					opts = append(opts, o.Label)
				}
			}
			if len(opts) > 0 {
				val += " " + dimStyle.Render("["+strings.Join(opts, " | ")+"]")
			}
		case form.WidgetDate:
			val = w.Date
		case form.WidgetCheckbox:
			val = "☐"
			if w.Checked {
				val = "☑"
			}
		default:
			val = w.Text
		}
		fmt.Fprintf(&b, "%s %s: %s\n", aiStyle.Render(w.Name), dimStyle.Render("("+w.Type+")"), val)
	}
	return strings.TrimRight(b.String(), "\n")
}
