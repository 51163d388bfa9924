package form

type Text struct {
	Content string `json:"content"`
}

type RichText struct {
	Text Text `json:"text"`
}

type Named struct {
	Name string `json:"name"`
}

type DateValue struct {
	Start string `json:"start"`
}

// PropertyValue is the workspace wire shape of a single property value.
// Exactly one member is set on serialized values.
type PropertyValue struct {
	Title       []RichText `json:"title,omitempty"`
	RichText    []RichText `json:"rich_text,omitempty"`
	Select      *Named     `json:"select,omitempty"`
	MultiSelect []Named    `json:"multi_select,omitempty"`
	Date        *DateValue `json:"date,omitempty"`
	Checkbox    *bool      `json:"checkbox,omitempty"`
}

type Properties map[string]PropertyValue

func textRun(s string) []RichText {
	return []RichText{{Text: Text{Content: s}}}
}

func firstRun(runs []RichText) (string, bool) {
	if len(runs) == 0 {
		return "", false
	}
	return runs[0].Text.Content, true
}
