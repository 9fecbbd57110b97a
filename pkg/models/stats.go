package models

import "time"

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries       int64 `json:"entries"`
	RetainedBytes int64 `json:"retained_bytes"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
}

// CatalogStats summarizes the state of the file catalog.
type CatalogStats struct {
	Total            int64   `json:"total"`
	Pending          int64   `json:"pending"`
	Excluded         int64   `json:"excluded"`
	Completed        int64   `json:"completed"`
	Errors           int64   `json:"errors"`
	AvgProcessingMs  float64 `json:"avg_processing_ms"`
}

// RunStats summarizes one analyze run.
type RunStats struct {
	Imported  int           `json:"imported"`
	Processed int           `json:"processed"`
	CacheHits int           `json:"cache_hits"`
	Excluded  int           `json:"excluded"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}
