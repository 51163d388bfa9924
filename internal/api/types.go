package api

import (
	"encoding/json"

	"memoai/internal/chat"
)

const (
	PathTargets    = "/api/targets"
	PathSchema     = "/api/schema/"
	PathContent    = "/api/content/"
	PathChat       = "/api/chat"
	PathSave       = "/api/save"
	PathCreatePage = "/api/pages/create"
	PathModels     = "/api/models"
	PathDebug      = "/api/debug"
)

const (
	KindDatabase = "database"
	KindPage     = "page"
)

type Target struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type TargetList struct {
	Targets []Target `json:"targets"`
}

type Block struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Content is the preview of a target: Columns/Rows for databases, Blocks for
// pages.
type Content struct {
	Type    string           `json:"type"`
	Columns []string         `json:"columns,omitempty"`
	Rows    []map[string]any `json:"rows,omitempty"`
	Blocks  []Block          `json:"blocks,omitempty"`
}

// ChatRequest mirrors the /api/chat body. Nullable fields are pointers so
// that auto model selection and text-only sends serialize as JSON null.
type ChatRequest struct {
	Text             string              `json:"text"`
	TargetID         string              `json:"target_id"`
	SystemPrompt     string              `json:"system_prompt"`
	SessionHistory   []chat.ContextEntry `json:"session_history"`
	ReferenceContext string              `json:"reference_context"`
	ImageData        *string             `json:"image_data"`
	ImageMimeType    *string             `json:"image_mime_type"`
	Model            *string             `json:"model"`
}

type ChatResponse struct {
	Message    string                     `json:"message"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
	Model      string                     `json:"model"`
	Usage      *chat.Usage                `json:"usage,omitempty"`
	Cost       float64                    `json:"cost,omitempty"`
}

type SaveRequest struct {
	TargetID   string `json:"target_db_id"`
	TargetType string `json:"target_type"`
	Text       string `json:"text"`
	Properties any    `json:"properties"`
}

type CreatePageResponse struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

type ModelDescriptor struct {
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	Name           string `json:"name"`
	SupportsVision bool   `json:"supports_vision"`
	RateLimitNote  string `json:"rate_limit_note,omitempty"`
}

type ModelCatalog struct {
	All           []ModelDescriptor `json:"all"`
	TextOnly      []ModelDescriptor `json:"text_only"`
	VisionCapable []ModelDescriptor `json:"vision_capable"`
	Defaults      struct {
		Text       string `json:"text"`
		Multimodal string `json:"multimodal"`
	} `json:"defaults"`
}
