// Package bulk drives the Salesforce Bulk API 2.0 query path: job
// submission, status polling until a terminal state, paged result download
// and job cleanup.
package bulk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/logger"
	"github.com/crestdata/forcesync/pkg/metrics"
	"github.com/crestdata/forcesync/pkg/salesforce"
)

// Job states as reported by the vendor. Polling only ends on a terminal
// state or on the deadline.
const (
	JobStateCreated        = "Created"
	JobStateUploadComplete = "UploadComplete"
	JobStateInProgress     = "InProgress"
	JobStateComplete       = "JobComplete"
	JobStateFailed         = "JobFailed"
	JobStateAborted        = "Aborted"
)

// LocatorExhausted is the literal Sforce-Locator value that marks the last
// result page.
const LocatorExhausted = "null"

// Job is a bulk query job as returned by the job endpoints.
type Job struct {
	ID                     string  `json:"id"`
	State                  string  `json:"state"`
	Object                 string  `json:"object"`
	Operation              string  `json:"operation"`
	NumberRecordsProcessed int64   `json:"numberRecordsProcessed"`
	Retries                int     `json:"retries"`
	TotalProcessingTime    float64 `json:"totalProcessingTime"`
}

// Terminal reports whether polling can stop.
func (j *Job) Terminal() bool {
	switch j.State {
	case JobStateComplete, JobStateFailed, JobStateAborted:
		return true
	}
	return false
}

// Manager owns the lifecycle of bulk query jobs for one sync.
type Manager struct {
	client   *salesforce.Client
	logger   *zap.Logger
	timeouts config.TimeoutConfig
}

// NewManager creates a job manager.
func NewManager(client *salesforce.Client, timeouts config.TimeoutConfig) *Manager {
	return &Manager{
		client:   client,
		logger:   logger.Get().With(zap.String("component", "bulk_job")),
		timeouts: timeouts,
	}
}

func (m *Manager) jobsURL(parts ...string) string {
	all := append([]string{"jobs", "query"}, parts...)
	return m.client.RestURL(all...)
}

// CreateJob submits a bulk query job. Capability errors mean the entity is
// not bulk-queryable and the caller should fall back to the REST path; they
// are returned unchanged so the caller can detect them.
func (m *Manager) CreateJob(ctx context.Context, entity, query string) (*Job, error) {
	body := map[string]string{
		"operation":       "query",
		"query":           query,
		"contentType":     "CSV",
		"columnDelimiter": "COMMA",
		"lineEnding":      "LF",
	}

	var job Job
	err := m.client.PostJSON(ctx, m.jobsURL(), "bulk_create", body, &job)
	if err != nil {
		if salesforce.IsUnsupportedEntity(err) {
			m.logger.Warn("entity not supported by the bulk API, falling back to REST",
				zap.String("entity", entity),
				zap.Error(err))
			return nil, err
		}
		return nil, err
	}

	m.logger.Info("bulk job created",
		zap.String("entity", entity),
		zap.String("job_id", job.ID),
		zap.String("state", job.State))
	return &job, nil
}

// GetJob fetches the current state of a job.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := m.client.GetJSON(ctx, m.jobsURL(jobID), "bulk_status", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJob polls a job at the configured interval until it reaches a
// terminal state or the deadline expires. JobComplete is the only success;
// JobFailed and Aborted are fatal for the stream, and a transaction
// security block is surfaced with its fixed remediation message.
func (m *Manager) WaitForJob(ctx context.Context, entity, jobID string) (*Job, error) {
	deadline := time.Now().Add(m.timeouts.JobDeadline())
	interval := m.timeouts.JobPollInterval

	timer := prometheus.NewTimer(metrics.JobWaitDuration.WithLabelValues(entity))
	defer timer.ObserveDuration()

	var attempts int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "job wait canceled")
		case <-time.After(interval):
		}

		attempts++
		metrics.JobPollAttempts.WithLabelValues(entity).Inc()

		job, err := m.GetJob(ctx, jobID)
		if err != nil {
			// Auth failures carry a fixed remediation and rate limits abort
			// the whole sync; neither is worth another poll.
			if errors.IsType(err, errors.ErrorTypeAuthentication) || errors.IsRateLimit(err) {
				return nil, err
			}
			m.logger.Warn("job status poll failed",
				zap.String("job_id", jobID),
				zap.Int("attempt", attempts),
				zap.Error(err))
			continue
		}

		m.logger.Debug("job status",
			zap.String("job_id", jobID),
			zap.String("state", job.State),
			zap.Int("attempt", attempts))

		switch job.State {
		case JobStateComplete:
			m.logger.Info("bulk job complete",
				zap.String("job_id", jobID),
				zap.Int64("records", job.NumberRecordsProcessed),
				zap.Int("attempts", attempts))
			return job, nil
		case JobStateFailed:
			return nil, errors.Newf(errors.ErrorTypeQuery,
				"bulk job %s for %s failed", jobID, entity).
				WithDetail("state", job.State)
		case JobStateAborted:
			return nil, errors.Newf(errors.ErrorTypeQuery,
				"bulk job %s for %s was aborted", jobID, entity).
				WithDetail("state", job.State)
		}
	}

	return nil, errors.Newf(errors.ErrorTypeTimeout,
		"bulk job %s for %s did not finish within %s", jobID, entity, m.timeouts.JobDeadline())
}

// AbortJob moves a non-terminal job to Aborted.
func (m *Manager) AbortJob(ctx context.Context, jobID string) error {
	body := map[string]string{"state": JobStateAborted}
	if err := m.client.PatchJSON(ctx, m.jobsURL(jobID), "bulk_abort", body); err != nil {
		return err
	}
	m.logger.Info("bulk job aborted", zap.String("job_id", jobID))
	return nil
}

// DeleteJob removes a terminal job from the org's job list.
func (m *Manager) DeleteJob(ctx context.Context, jobID string) error {
	resp, err := m.client.Do(ctx, http.MethodDelete, m.jobsURL(jobID), nil, "bulk_delete")
	if err != nil {
		return err
	}
	resp.Body.Close()
	m.logger.Debug("bulk job deleted", zap.String("job_id", jobID))
	return nil
}

// ResultsPage is one page of CSV results together with the locator for the
// next page.
type ResultsPage struct {
	Locator string
	Done    bool
}

// ResultsURL builds the results URL for a page. An empty locator requests
// the first page; maxRecords bounds the page size.
func (m *Manager) ResultsURL(jobID, locator string, maxRecords int) string {
	url := m.jobsURL(jobID, "results") + fmt.Sprintf("?maxRecords=%d", maxRecords)
	if locator != "" {
		url += "&locator=" + locator
	}
	return url
}

// FetchResultsPage downloads one page of results into a spool file and
// returns the next-page locator. The caller owns the spool.
func (m *Manager) FetchResultsPage(ctx context.Context, jobID, locator string, maxRecords int) (*Spool, ResultsPage, error) {
	url := m.ResultsURL(jobID, locator, maxRecords)

	headers, err := m.client.AuthHeaders()
	if err != nil {
		return nil, ResultsPage{}, err
	}
	headers["Accept-Encoding"] = "gzip"

	resp, err := m.client.DoRaw(ctx, http.MethodGet, url, headers, "bulk_results")
	if err != nil {
		return nil, ResultsPage{}, err
	}
	defer resp.Body.Close()

	spool, err := NewSpool(resp)
	if err != nil {
		return nil, ResultsPage{}, err
	}

	next := resp.Header.Get("Sforce-Locator")
	page := ResultsPage{
		Locator: next,
		Done:    next == "" || next == LocatorExhausted,
	}
	return spool, page, nil
}
