package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"memoai/internal/apperr"
)

type WidgetKind int

const (
	WidgetText WidgetKind = iota
	WidgetChoice
	WidgetDate
	WidgetCheckbox
)

const (
	unselectedLabel = "(unselected)"
	derivedSuffix   = " (from data)"
	dateLayout      = "2006-01-02"
	titleLimit      = 100
)

type Option struct {
	Value   string
	Label   string
	Derived bool
}

// Widget is the editable state of one field. Choice widgets always start
// with the empty option.
type Widget struct {
	Name     string
	Type     string
	Kind     WidgetKind
	Options  []Option
	Text     string
	Selected []string
	Date     string
	Checked  bool
}

func (w Widget) Multiple() bool {
	return w.Type == TypeMultiSelect
}

func (w Widget) hasOption(v string) bool {
	if v == "" {
		return false
	}
	for _, o := range w.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// Form is the property editor generated from the current schema.
type Form struct {
	log zerolog.Logger

	mu      sync.Mutex
	widgets []Widget
	preview []map[string]any
}

func New(logger zerolog.Logger) *Form {
	return &Form{log: logger}
}

// Render rebuilds the widgets, last declared field first, and re-applies
// suggestions from the last content preview.
func (f *Form) Render(fields []Field) {
	widgets := make([]Widget, 0, len(fields))
	for i := len(fields) - 1; i >= 0; i-- {
		fd := fields[i]
		if IsSystemType(fd.Type) {
			continue
		}
		w := Widget{Name: fd.Name, Type: fd.Type}
		switch fd.Type {
		case TypeSelect, TypeMultiSelect:
			w.Kind = WidgetChoice
			w.Options = append(w.Options, Option{Value: "", Label: unselectedLabel})
			for _, o := range fd.Options {
				w.Options = append(w.Options, Option{Value: o, Label: o})
			}
		case TypeDate:
			w.Kind = WidgetDate
		case TypeCheckbox:
			w.Kind = WidgetCheckbox
		default:
			w.Kind = WidgetText
		}
		widgets = append(widgets, w)
	}

	f.mu.Lock()
	f.widgets = widgets
	preview := f.preview
	f.mu.Unlock()

	if preview != nil {
		f.SuggestDynamicOptions(preview)
	}
}

// Reset drops widgets and the remembered preview.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.widgets = nil
	f.preview = nil
}

func (f *Form) Widgets() []Widget {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Widget, len(f.widgets))
	for i, w := range f.widgets {
		w.Options = append([]Option(nil), w.Options...)
		w.Selected = append([]string(nil), w.Selected...)
		out[i] = w
	}
	return out
}

func (f *Form) Widget(name string) (Widget, bool) {
	for _, w := range f.Widgets() {
		if w.Name == name {
			return w, true
		}
	}
	return Widget{}, false
}

func (f *Form) SetText(name, value string) error {
	return f.edit(name, func(w *Widget) error {
		if w.Kind != WidgetText {
			return apperr.Validation("%s is not a text field", name)
		}
		w.Text = value
		return nil
	})
}

// Choose replaces the selection of a choice widget. No values clears it.
func (f *Form) Choose(name string, values ...string) error {
	return f.edit(name, func(w *Widget) error {
		if w.Kind != WidgetChoice {
			return apperr.Validation("%s is not a choice field", name)
		}
		var picked []string
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if !w.hasOption(v) {
				return apperr.Validation("%q is not an option of %s", v, name)
			}
			picked = append(picked, v)
		}
		if !w.Multiple() && len(picked) > 1 {
			return apperr.Validation("%s takes a single value", name)
		}
		w.Selected = picked
		return nil
	})
}

func (f *Form) SetDate(name, value string) error {
	return f.edit(name, func(w *Widget) error {
		if w.Kind != WidgetDate {
			return apperr.Validation("%s is not a date field", name)
		}
		if value != "" {
			if _, err := time.Parse(dateLayout, value); err != nil {
				return apperr.Validation("%s expects YYYY-MM-DD", name)
			}
		}
		w.Date = value
		return nil
	})
}

func (f *Form) SetChecked(name string, on bool) error {
	return f.edit(name, func(w *Widget) error {
		if w.Kind != WidgetCheckbox {
			return apperr.Validation("%s is not a checkbox", name)
		}
		w.Checked = on
		return nil
	})
}

func (f *Form) edit(name string, fn func(*Widget) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.widgets {
		if f.widgets[i].Name == name {
			return fn(&f.widgets[i])
		}
	}
	return apperr.Validation("unknown field %q", name)
}

// Serialize emits the non-empty widget values. Checkboxes are always sent;
// other field types (number, url, ...) are not.
func (f *Form) Serialize() Properties {
	return f.serialize("", false)
}

// SerializeWithContent is used when a chat entry is saved: the title is the
// content itself and an empty rich text falls back to it.
func (f *Form) SerializeWithContent(content string) Properties {
	return f.serialize(content, true)
}

func (f *Form) serialize(content string, withContent bool) Properties {
	f.mu.Lock()
	defer f.mu.Unlock()

	props := Properties{}
	for _, w := range f.widgets {
		switch w.Type {
		case TypeTitle:
			text := w.Text
			if withContent {
				text = apperr.Truncate(content, titleLimit)
			}
			if text != "" {
				props[w.Name] = PropertyValue{Title: textRun(text)}
			}
		case TypeRichText:
			text := w.Text
			if withContent && text == "" {
				text = content
			}
			if text != "" {
				props[w.Name] = PropertyValue{RichText: textRun(text)}
			}
		case TypeSelect:
			if len(w.Selected) > 0 {
				props[w.Name] = PropertyValue{Select: &Named{Name: w.Selected[0]}}
			}
		case TypeMultiSelect:
			if len(w.Selected) > 0 {
				names := make([]Named, len(w.Selected))
				for i, s := range w.Selected {
					names[i] = Named{Name: s}
				}
				props[w.Name] = PropertyValue{MultiSelect: names}
			}
		case TypeDate:
			if w.Date != "" {
				props[w.Name] = PropertyValue{Date: &DateValue{Start: w.Date}}
			}
		case TypeCheckbox:
			checked := w.Checked
			props[w.Name] = PropertyValue{Checkbox: &checked}
		}
	}
	return props
}

// Autofill applies AI-suggested properties. Each field is handled on its
// own; the names of fields that could not be applied are returned.
func (f *Form) Autofill(props map[string]json.RawMessage) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var failed []string
	for i := range f.widgets {
		w := &f.widgets[i]
		raw, ok := props[w.Name]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		if err := fillWidget(w, raw); err != nil {
			f.log.Warn().Err(err).Str("field", w.Name).Str("type", w.Type).Msg("autofill field")
			failed = append(failed, w.Name)
		}
	}
	return failed
}

func fillWidget(w *Widget, raw json.RawMessage) error {
	var v PropertyValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	switch w.Type {
	case TypeTitle:
		if s, ok := firstRun(v.Title); ok {
			w.Text = s
		}
	case TypeRichText:
		if s, ok := firstRun(v.RichText); ok {
			w.Text = s
		}
	case TypeSelect:
		if v.Select != nil {
			w.Selected = nil
			if w.hasOption(v.Select.Name) {
				w.Selected = []string{v.Select.Name}
			}
		}
	case TypeMultiSelect:
		if v.MultiSelect != nil {
			want := map[string]bool{}
			for _, n := range v.MultiSelect {
				want[n.Name] = true
			}
			var picked []string
			for _, o := range w.Options {
				if o.Value != "" && want[o.Value] {
					picked = append(picked, o.Value)
				}
			}
			w.Selected = picked
		}
	case TypeDate:
		if v.Date != nil {
			if v.Date.Start == "" {
				return errors.New("date without start")
			}
			day, _, _ := strings.Cut(v.Date.Start, "T")
			w.Date = day
		}
	case TypeCheckbox:
		w.Checked = v.Checkbox != nil && *v.Checkbox
	}
	return nil
}

// SetPreview remembers database preview rows and derives choice options
// from them.
func (f *Form) SetPreview(rows []map[string]any) {
	f.mu.Lock()
	f.preview = rows
	f.mu.Unlock()
	f.SuggestDynamicOptions(rows)
}

// SuggestDynamicOptions adds values already used in the preview rows to the
// matching choice widgets. Cells are split on commas; known values are not
// repeated.
func (f *Form) SuggestDynamicOptions(rows []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.widgets {
		w := &f.widgets[i]
		if w.Kind != WidgetChoice {
			continue
		}
		var candidates []string
		seen := map[string]bool{}
		for _, row := range rows {
			for _, part := range strings.Split(cellText(row[w.Name]), ",") {
				part = strings.TrimSpace(part)
				if part == "" || seen[part] {
					continue
				}
				seen[part] = true
				candidates = append(candidates, part)
			}
		}
		for _, c := range candidates {
			if w.hasOption(c) {
				continue
			}
			w.Options = append(w.Options, Option{Value: c, Label: c + derivedSuffix, Derived: true})
		}
	}
}

func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, cellText(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
