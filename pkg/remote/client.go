// Package remote talks to the document classification service.
//
// The service is asynchronous: a submission returns a task ID which is
// polled until the task completes or fails. Everything behind the HTTP
// boundary is opaque to this package.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ferret-scan/ferret/pkg/config"
	"github.com/ferret-scan/ferret/pkg/models"
)

// ErrDeadline is returned when a task does not finish within the
// configured task timeout.
var ErrDeadline = errors.New("remote: task deadline exceeded")

// ServiceError is a rejection from the remote service. Status is the HTTP
// status code, or 0 when the task itself reported failure.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote: task failed: %s", e.Message)
	}
	return fmt.Sprintf("remote: service returned %d: %s", e.Status, e.Message)
}

// IsTimeout reports whether err is a timeout-class failure (task deadline
// or network timeout), as opposed to a rejection or caller cancellation.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrDeadline) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Request is one unit of work for the classification service.
type Request struct {
	Path    string `json:"path"`
	Summary string `json:"summary"`
	Prompt  string `json:"prompt"`
}

// Client is the HTTP client for the classification service.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	taskTimeout  time.Duration
	pollInterval time.Duration
	log          logrus.FieldLogger
}

// New creates a Client from config.
func New(cfg config.RemoteConfig, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		taskTimeout:  taskTimeout,
		pollInterval: pollInterval,
		log:          log,
	}
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	Status string                 `json:"status"`
	Error  string                 `json:"error,omitempty"`
	Result *models.Classification `json:"result,omitempty"`
}

// Classify submits a request and polls until the task resolves. The
// returned error is either a *ServiceError, a timeout-class error, a
// transport error, or ctx's error on cancellation.
func (c *Client) Classify(ctx context.Context, req Request) (*models.Classification, error) {
	requestID := uuid.NewString()

	taskID, err := c.submit(ctx, requestID, req)
	if err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"task_id":    taskID,
		"path":       req.Path,
	}).Debug("submitted classification task")

	return c.poll(ctx, taskID)
}

func (c *Client) submit(ctx context.Context, requestID string, req Request) (string, error) {
	body, err := json.Marshal(struct {
		RequestID string `json:"request_id"`
		Request
	}{RequestID: requestID, Request: req})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/process", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Status: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if sub.TaskID == "" {
		return "", &ServiceError{Status: resp.StatusCode, Message: "missing task_id"}
	}
	return sub.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (*models.Classification, error) {
	deadline := time.NewTimer(c.taskTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.fetchStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case "completed":
			result := status.Result
			if result == nil {
				result = &models.Classification{}
			}
			result.TaskID = taskID
			return result, nil
		case "failed":
			return nil, &ServiceError{Message: status.Error}
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return nil, fmt.Errorf("%w: task %s", ErrDeadline, taskID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) fetchStatus(ctx context.Context, taskID string) (*statusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/status/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Status: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

// Health probes the service health endpoint.
func (c *Client) Health(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/health", nil)
	if err != nil {
		return false
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.WithError(err).Warn("health check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}
