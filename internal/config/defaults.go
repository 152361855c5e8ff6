package config

import "time"

// Default values applied when a setting is absent from file and environment.
const (
	// DefaultServerTimeout bounds a single HTTP call, sized for chunk PUTs
	// on slow links.
	DefaultServerTimeout = 90 * time.Second

	DefaultDownloadDir     = "downloads"
	DefaultDownloadQuality = "best"
	DefaultKeepFiles       = false
	DefaultMaxFileSize     = "500MB"
	DefaultYTDLPPath       = "yt-dlp"

	DefaultChunkSize      = "8MiB"
	DefaultMaxRetries     = 3
	DefaultConcurrency    = 4
	DefaultRetryBaseDelay = 500 * time.Millisecond
	DefaultRetryMaxDelay  = 30 * time.Second

	DefaultPollInterval = 5 * time.Second
	DefaultPollMaxWait  = 10 * time.Minute

	DefaultSessionDir = ".clipscribe/sessions"
	DefaultResultsDir = ".clipscribe/results"
)
