// Package config provides the unified configuration system for forcesync.
// It defines a single SyncConfig structure that the source, the bulk/REST
// clients and the orchestrator all consume, organized into logical sections:
//
//   - Salesforce: credentials, start date, API version
//   - Performance: page sizes, checkpoint interval, session limit
//   - Timeouts: request timeout, job poll interval and deadline
//   - Reliability: retries and client-side rate limiting
//   - Observability: log level, metrics toggle
//
// Example usage:
//
//	cfg := config.NewSyncConfig("salesforce-prod")
//	cfg.Performance.CheckpointInterval = 500
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// SyncConfig is the single unified configuration structure for a sync run.
type SyncConfig struct {
	// Name identifies the sync instance
	Name string `yaml:"name" json:"name"`

	// Salesforce holds vendor credentials and scope settings
	Salesforce SalesforceConfig `yaml:"salesforce" json:"salesforce"`

	// Streams optionally restricts the sync to a configured catalog, in order.
	// An empty list means "every queryable entity discovered from the API".
	Streams []StreamConfig `yaml:"streams" json:"streams"`

	// Performance settings control throughput and checkpointing
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define network and job-polling deadlines
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for retry and rate limiting
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Observability settings for logging and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SalesforceConfig contains vendor credentials and sync scope.
type SalesforceConfig struct {
	// AuthURL is the OAuth token endpoint
	AuthURL string `yaml:"auth_url" json:"auth_url"`
	// InstanceURL is the API host for the authenticated org; discovered at
	// login when empty
	InstanceURL string `yaml:"instance_url" json:"instance_url"`
	// ClientID is the connected app consumer key
	ClientID string `yaml:"client_id" json:"client_id"`
	// ClientSecret is the connected app consumer secret
	ClientSecret string `yaml:"client_secret" json:"client_secret"`
	// RefreshToken authenticates the OAuth refresh flow
	RefreshToken string `yaml:"refresh_token" json:"refresh_token"`
	// StartDate bounds the first incremental window (ISO-8601). Defaults to
	// two years before now when empty.
	StartDate string `yaml:"start_date" json:"start_date"`
	// APIVersion overrides the default Salesforce API version
	APIVersion string `yaml:"api_version" json:"api_version"`
	// QueryAll includes soft-deleted records via the queryAll endpoint
	QueryAll bool `yaml:"query_all" json:"query_all"`
}

// StreamConfig selects one entity for the sync catalog.
type StreamConfig struct {
	// Name is the Salesforce object name (e.g. "Account")
	Name string `yaml:"name" json:"name"`
	// SyncMode is "incremental" or "full_refresh"
	SyncMode string `yaml:"sync_mode" json:"sync_mode"`
}

// PerformanceConfig contains throughput and checkpointing settings.
type PerformanceConfig struct {
	// PageSize controls the REST query batch size
	PageSize int `yaml:"page_size" json:"page_size"`
	// CheckpointInterval is the number of records between state messages
	CheckpointInterval int `yaml:"checkpoint_interval" json:"checkpoint_interval"`
	// SessionLimit bounds concurrent stream sessions. The default of 1
	// serializes streams and makes rate-limit handling deterministic.
	SessionLimit int `yaml:"session_limit" json:"session_limit"`
	// SliceStepDays is the width of an incremental time window
	SliceStepDays int `yaml:"slice_step_days" json:"slice_step_days"`
	// SliceBatchSize is the number of parent records per sub-stream slice
	SliceBatchSize int `yaml:"slice_batch_size" json:"slice_batch_size"`
}

// TimeoutConfig contains network and polling deadlines.
type TimeoutConfig struct {
	// Request timeout for individual HTTP calls
	Request time.Duration `yaml:"request" json:"request"`
	// JobPollInterval is the fixed wait between bulk job status checks
	JobPollInterval time.Duration `yaml:"job_poll_interval" json:"job_poll_interval"`
	// JobWaitTimeout bounds a single polling round
	JobWaitTimeout time.Duration `yaml:"job_wait_timeout" json:"job_wait_timeout"`
	// MaxPollAttempts caps polling rounds; the job deadline is
	// MaxPollAttempts * JobWaitTimeout
	MaxPollAttempts int `yaml:"max_poll_attempts" json:"max_poll_attempts"`
}

// ReliabilityConfig contains retry and rate limiting settings.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for transient HTTP failures
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RateLimitPerSec limits outgoing requests per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
}

// ObservabilityConfig contains logging and metrics settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// EnableMetrics activates prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// NewSyncConfig creates a SyncConfig with production defaults. Specific
// deployments override fields after loading.
func NewSyncConfig(name string) *SyncConfig {
	return &SyncConfig{
		Name: name,
		Salesforce: SalesforceConfig{
			AuthURL:    "https://login.salesforce.com/services/oauth2/token",
			APIVersion: "v57.0",
		},
		Performance: PerformanceConfig{
			PageSize:           2000,
			CheckpointInterval: 500,
			SessionLimit:       1,
			SliceStepDays:      30,
			SliceBatchSize:     500,
		},
		Timeouts: TimeoutConfig{
			Request:         30 * time.Second,
			JobPollInterval: time.Second,
			JobWaitTimeout:  10 * time.Minute,
			MaxPollAttempts: 20,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RateLimitPerSec: 0,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
		},
	}
}

// Validate validates the configuration for correctness. Call after loading
// to catch errors early.
func (sc *SyncConfig) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if sc.Salesforce.ClientID == "" {
		return fmt.Errorf("salesforce.client_id is required")
	}
	if sc.Salesforce.ClientSecret == "" {
		return fmt.Errorf("salesforce.client_secret is required")
	}
	if sc.Salesforce.RefreshToken == "" {
		return fmt.Errorf("salesforce.refresh_token is required")
	}
	if sc.Performance.PageSize <= 0 {
		return fmt.Errorf("performance.page_size must be positive")
	}
	if sc.Performance.CheckpointInterval <= 0 {
		return fmt.Errorf("performance.checkpoint_interval must be positive")
	}
	if sc.Performance.SessionLimit <= 0 {
		return fmt.Errorf("performance.session_limit must be positive")
	}
	if sc.Performance.SliceStepDays <= 0 {
		return fmt.Errorf("performance.slice_step_days must be positive")
	}
	if sc.Timeouts.MaxPollAttempts <= 0 {
		return fmt.Errorf("timeouts.max_poll_attempts must be positive")
	}
	if sc.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("reliability.retry_attempts cannot be negative")
	}
	if sc.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("reliability.rate_limit_per_sec cannot be negative")
	}
	for i, s := range sc.Streams {
		if s.Name == "" {
			return fmt.Errorf("streams[%d].name is required", i)
		}
		switch s.SyncMode {
		case "", "incremental", "full_refresh":
		default:
			return fmt.Errorf("streams[%d].sync_mode must be incremental or full_refresh", i)
		}
	}
	return nil
}

// JobDeadline returns the total bulk job polling deadline.
func (t *TimeoutConfig) JobDeadline() time.Duration {
	return time.Duration(t.MaxPollAttempts) * t.JobWaitTimeout
}

// IsRateLimited returns true if client-side rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}
