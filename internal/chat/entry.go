package chat

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

type Kind string

const (
	KindUser   Kind = "user"
	KindAI     Kind = "ai"
	KindSystem Kind = "system"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ModelInfo struct {
	Model string  `json:"model"`
	Usage *Usage  `json:"usage,omitempty"`
	Cost  float64 `json:"cost"`
}

// Entry is one line of the conversation. Body may carry display markup:
// <br> line breaks and a single inline <img> reference.
type Entry struct {
	Kind       Kind            `json:"type"`
	Body       string          `json:"message"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ModelInfo  *ModelInfo      `json:"modelInfo,omitempty"`
}

func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Plain is the entry body without display markup.
func (e Entry) Plain() string {
	return PlainText(e.Body)
}

// ContextEntry is what the backend sees of an earlier turn.
type ContextEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	breakTag = regexp.MustCompile(`(?i)<br\s*/?>`)
	imageTag = regexp.MustCompile(`(?i)<img[^>]*>`)
)

func PlainText(body string) string {
	s := breakTag.ReplaceAllString(body, "\n")
	s = imageTag.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ImageMarker stands in for an attached image in the plain text of an entry.
const ImageMarker = "[image]"

// DisplayBody joins the text and an optional data URL image into entry
// markup.
func DisplayBody(text, imageDataURL string) string {
	body := strings.ReplaceAll(text, "\n", "<br>")
	if imageDataURL == "" {
		return body
	}
	img := ImageMarker + `<br><img src="` + imageDataURL + `">`
	if body == "" {
		return img
	}
	return body + "<br>" + img
}
