// Package config loads and validates clipscribe settings from file,
// environment, and defaults.
package config

import (
	"errors"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/clipscribe/clipscribe/pkg/fetch"
)

// Config is the top-level configuration struct for clipscribe.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Download DownloadConfig `mapstructure:"download"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Poll     PollConfig     `mapstructure:"poll"`
	Session  SessionConfig  `mapstructure:"session"`
	Results  ResultsConfig  `mapstructure:"results"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds transcription service connection settings.
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DownloadConfig holds media download settings.
type DownloadConfig struct {
	Dir         string `mapstructure:"dir"`
	Quality     string `mapstructure:"quality"`
	KeepFiles   bool   `mapstructure:"keep_files"`
	MaxFileSize string `mapstructure:"max_file_size"`
	YTDLPPath   string `mapstructure:"ytdlp_path"`
}

// UploadConfig holds chunked upload settings.
type UploadConfig struct {
	ChunkSize      string        `mapstructure:"chunk_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Concurrency    int           `mapstructure:"concurrency"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// PollConfig holds job status polling settings.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	MaxWait  time.Duration `mapstructure:"max_wait"`
}

// SessionConfig holds resumable session state settings.
type SessionConfig struct {
	Dir string `mapstructure:"dir"`
}

// ResultsConfig holds transcript storage settings.
type ResultsConfig struct {
	Dir string `mapstructure:"dir"`
}

// MetricsConfig holds the optional Prometheus scrape endpoint settings.
// An empty Addr disables the endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Sentinel errors for configuration validation.
var (
	// ErrMissingServerURL indicates no service endpoint was configured.
	ErrMissingServerURL = errors.New("server.url is required")
	// ErrInvalidServerURL indicates the service endpoint is not an absolute http(s) URL.
	ErrInvalidServerURL = errors.New("server.url must be an absolute http or https URL")
	// ErrInvalidTimeout indicates the request timeout is negative.
	ErrInvalidTimeout = errors.New("server.timeout must be non-negative")
	// ErrInvalidQuality indicates an unknown download quality preset.
	ErrInvalidQuality = errors.New("download.quality must be one of: best, good, fast")
	// ErrInvalidMaxFileSize indicates the download size cap is unparseable.
	ErrInvalidMaxFileSize = errors.New("download.max_file_size must be a size like 500MB")
	// ErrInvalidChunkSize indicates the chunk size is unparseable or zero.
	ErrInvalidChunkSize = errors.New("upload.chunk_size must be a positive size like 8MiB")
	// ErrInvalidMaxRetries indicates the retry count is negative.
	ErrInvalidMaxRetries = errors.New("upload.max_retries must be non-negative")
	// ErrInvalidConcurrency indicates the worker count is out of range.
	ErrInvalidConcurrency = errors.New("upload.concurrency must be between 1 and 64")
	// ErrInvalidRetryDelay indicates a retry delay is not positive.
	ErrInvalidRetryDelay = errors.New("upload retry delays must be positive")
	// ErrInvalidPollInterval indicates the poll interval is not positive.
	ErrInvalidPollInterval = errors.New("poll.interval must be positive")
	// ErrInvalidPollMaxWait indicates the poll ceiling is shorter than one interval.
	ErrInvalidPollMaxWait = errors.New("poll.max_wait must be at least poll.interval")
)

// maxConcurrency bounds the upload worker pool; beyond this the service rate
// limits long before more workers help.
const maxConcurrency = 64

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	serverErr := c.validateServer()
	if serverErr != nil {
		return serverErr
	}

	downloadErr := c.validateDownload()
	if downloadErr != nil {
		return downloadErr
	}

	uploadErr := c.validateUpload()
	if uploadErr != nil {
		return uploadErr
	}

	return c.validatePoll()
}

func (c *Config) validateServer() error {
	if c.Server.URL == "" {
		return ErrMissingServerURL
	}

	parsed, err := url.Parse(c.Server.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ErrInvalidServerURL
	}

	if c.Server.Timeout < 0 {
		return ErrInvalidTimeout
	}

	return nil
}

func (c *Config) validateDownload() error {
	switch c.Download.Quality {
	case fetch.QualityBest, fetch.QualityGood, fetch.QualityFast:
	default:
		return ErrInvalidQuality
	}

	if c.Download.MaxFileSize != "" {
		if _, err := humanize.ParseBytes(c.Download.MaxFileSize); err != nil {
			return ErrInvalidMaxFileSize
		}
	}

	return nil
}

func (c *Config) validateUpload() error {
	size, err := humanize.ParseBytes(c.Upload.ChunkSize)
	if err != nil || size == 0 {
		return ErrInvalidChunkSize
	}

	if c.Upload.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	if c.Upload.Concurrency < 1 || c.Upload.Concurrency > maxConcurrency {
		return ErrInvalidConcurrency
	}

	if c.Upload.RetryBaseDelay <= 0 || c.Upload.RetryMaxDelay <= 0 {
		return ErrInvalidRetryDelay
	}

	return nil
}

func (c *Config) validatePoll() error {
	if c.Poll.Interval <= 0 {
		return ErrInvalidPollInterval
	}

	if c.Poll.MaxWait < c.Poll.Interval {
		return ErrInvalidPollMaxWait
	}

	return nil
}

// ChunkSizeBytes returns the parsed chunk size. Call after Validate.
func (c *Config) ChunkSizeBytes() int64 {
	size, err := humanize.ParseBytes(c.Upload.ChunkSize)
	if err != nil {
		return 0
	}

	return int64(size)
}

// MaxFileSizeBytes returns the parsed download size cap, 0 meaning unlimited.
// Call after Validate.
func (c *Config) MaxFileSizeBytes() int64 {
	if c.Download.MaxFileSize == "" {
		return 0
	}

	size, err := humanize.ParseBytes(c.Download.MaxFileSize)
	if err != nil {
		return 0
	}

	return int64(size)
}
