package models

import "encoding/json"

// Classification is the structured result returned by the remote
// analysis service for a single file.
type Classification struct {
	TaskID       string          `json:"task_id"`
	Security     json.RawMessage `json:"security,omitempty"`
	GDPR         json.RawMessage `json:"gdpr,omitempty"`
	Finance      json.RawMessage `json:"finance,omitempty"`
	Legal        json.RawMessage `json:"legal,omitempty"`
	Confidence   int             `json:"confidence"`
	Resume       string          `json:"resume,omitempty"`
	RawResponse  string          `json:"raw_response,omitempty"`
	ProcessingMs int64           `json:"processing_ms"`
	TokensUsed   int             `json:"tokens_used"`
}
