package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	fallbackChatDetail = "an error occurred during analysis"
	fallbackSaveDetail = "see the server log for details"
	fallbackPageDetail = "failed to create page"
)

// chatDetail prefers detail.message, otherwise echoes the whole error body.
func chatDetail(_ int, body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallbackChatDetail
	}
	if d, ok := payload["detail"].(map[string]any); ok {
		if msg, ok := d["message"].(string); ok && msg != "" {
			return msg
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fallbackChatDetail
	}
	return string(b)
}

func saveDetail(status int, body []byte) string {
	detail := fallbackSaveDetail
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch d := payload.Detail.(type) {
		case string:
			if strings.TrimSpace(d) != "" {
				detail = d
			}
		case nil:
		default:
			if b, err := json.MarshalIndent(d, "", "  "); err == nil {
				detail = string(b)
			}
		}
	}
	return fmt.Sprintf("[save error %d]\n%s", status, detail)
}

func createPageDetail(_ int, body []byte) string {
	var payload struct {
		Detail any `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallbackPageDetail
	}
	switch d := payload.Detail.(type) {
	case string:
		if d != "" {
			return d
		}
	case nil:
	default:
		if b, err := json.Marshal(d); err == nil {
			return string(b)
		}
	}
	return fallbackPageDetail
}
