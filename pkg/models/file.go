package models

import "time"

// File statuses as stored in the catalog.
const (
	StatusPending   = "pending"
	StatusExcluded  = "excluded"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// FileRecord is one filesystem object imported from a share scan.
type FileRecord struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Host         string    `json:"host"`
	Extension    string    `json:"extension"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Owner        string    `json:"owner"`
	FastHash     string    `json:"fast_hash"`
	Attributes   string    `json:"attributes"`
	Signature    string    `json:"signature"`
	LastModified time.Time `json:"last_modified"`

	Status          string `json:"status"`
	ExclusionReason string `json:"exclusion_reason,omitempty"`
	PriorityScore   int    `json:"priority_score"`
	SpecialFlags    string `json:"special_flags,omitempty"`
}
