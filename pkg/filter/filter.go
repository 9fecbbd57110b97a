// Package filter decides which catalog files are worth classifying and
// how urgently.
package filter

import (
	"path/filepath"
	"strings"

	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/models"
)

// Exclusion reasons recorded in the catalog.
const (
	ReasonBlockedExtension = "blocked_extension"
	ReasonTooSmall         = "too_small"
	ReasonTooLarge         = "too_large"
	ReasonSystemFile       = "system_file"
	ReasonHiddenFile       = "hidden_file"
	ReasonExcludedPath     = "excluded_path"
)

// Filter applies exclusion rules and priority scoring to file records.
type Filter struct {
	cfg config.FilterConfig
}

// New creates a Filter from config.
func New(cfg config.FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// ShouldProcess reports whether a file passes the exclusion rules; when it
// does not, the second return names the reason.
func (f *Filter) ShouldProcess(file models.FileRecord) (bool, string) {
	rules := f.cfg.Exclusions
	ext := normalizeExt(file.Extension)
	attrs := attrTokens(file.Attributes)

	if contains(rules.BlockedExtensions, ext) {
		return false, ReasonBlockedExtension
	}
	if file.Size < rules.MinBytes {
		return false, ReasonTooSmall
	}
	if rules.MaxBytes > 0 && file.Size > rules.MaxBytes {
		return false, ReasonTooLarge
	}
	if rules.SkipSystem && attrs["system"] {
		return false, ReasonSystemFile
	}
	if rules.SkipHidden && attrs["hidden"] {
		return false, ReasonHiddenFile
	}
	for _, pattern := range rules.ExcludedPaths {
		if ok, _ := filepath.Match(pattern, file.Path); ok {
			return false, ReasonExcludedPath
		}
	}
	return true, ""
}

// PriorityScore ranks a file 0-100 by size, type, age and special
// attributes; higher scores are classified first.
func (f *Filter) PriorityScore(file models.FileRecord) int {
	rules := f.cfg.Exclusions
	weights := f.cfg.Scoring
	ext := normalizeExt(file.Extension)
	attrs := attrTokens(file.Attributes)

	maxBytes := rules.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 1
	}
	sizeRatio := float64(file.Size) / float64(maxBytes)
	if sizeRatio > 1 {
		sizeRatio = 1
	}
	score := sizeRatio * float64(weights.Size)

	switch {
	case contains(rules.HighPriority, ext):
		score += float64(weights.Type)
	case contains(rules.LowPriority, ext):
		score += float64(weights.Type) * 0.3
	default:
		score += float64(weights.Type) * 0.6
	}

	score += float64(weights.Age)

	if attrs["hidden"] {
		score += float64(weights.Special) / 2
	}
	if attrs["system"] {
		score += float64(weights.Special) / 2
	}

	if score > 100 {
		score = 100
	}
	return int(score)
}

// SpecialFlags returns attention markers for a file, including extension
// vs. signature mismatches.
func (f *Filter) SpecialFlags(file models.FileRecord) []string {
	var flags []string
	attrs := attrTokens(file.Attributes)
	if attrs["hidden"] {
		flags = append(flags, "hidden_file")
	}
	if attrs["system"] {
		flags = append(flags, "system_file")
	}
	if file.Signature != "" && file.Extension != "" &&
		!strings.HasSuffix(strings.ToLower(file.Signature), strings.ToLower(file.Extension)) {
		flags = append(flags, "signature_mismatch")
	}
	return flags
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func attrTokens(attrs string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(attrs, func(r rune) bool {
		return r == ',' || r == ' '
	}) {
		tokens[strings.ToLower(strings.TrimSpace(tok))] = true
	}
	return tokens
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if normalizeExt(v) == item {
			return true
		}
	}
	return false
}
