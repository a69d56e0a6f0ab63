// Package client talks to a running mdplan server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgallion1/mdplan/internal/merge"
	"github.com/dgallion1/mdplan/internal/pipeline"
	"github.com/dgallion1/mdplan/internal/plan"
)

// ErrNotFound is returned when the server has no such job or plan.
var ErrNotFound = errors.New("not found")

// Client communicates with the mdplan HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Job is the server's view of one planning job.
type Job struct {
	ID          string             `json:"job_id"`
	Filename    string             `json:"filename"`
	Status      pipeline.JobStatus `json:"status"`
	Phase       string             `json:"phase,omitempty"`
	ContentHash string             `json:"content_hash,omitempty"`
	Progress    pipeline.Progress  `json:"progress"`
}

// MergeResponse is the body of a successful or rejected merge.
type MergeResponse struct {
	Merged string       `json:"merged"`
	Report merge.Report `json:"report"`
	Error  string       `json:"error,omitempty"`
}

// SubmitPlan uploads a document for planning. Overrides are sent as form
// fields (mode, target_tokens, max_tokens, overlap_tokens, context_limit,
// tolerance).
func (c *Client) SubmitPlan(ctx context.Context, filename string, r io.Reader, overrides map[string]string) (*Job, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range overrides {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/plans", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var job Job
	if err := c.do(httpReq, "submit plan", &job, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobStatus fetches the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*Job, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/plans/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var job Job
	if err := c.do(httpReq, "job "+jobID, &job, http.StatusOK); err != nil {
		return nil, err
	}
	return &job, nil
}

// Wait polls a job until it finishes or ctx ends. A failed job is returned
// together with an error.
func (c *Client) Wait(ctx context.Context, jobID string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.JobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Done() {
			if job.Status == pipeline.StatusFailed {
				return job, fmt.Errorf("job %s failed: %s", jobID, strings.Join(job.Progress.Errors, "; "))
			}
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetPlan retrieves a stored plan by content hash.
func (c *Client) GetPlan(ctx context.Context, hash string) (*plan.Plan, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/plans/"+url.PathEscape(hash), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var p plan.Plan
	if err := c.do(httpReq, "get plan "+hash, &p, http.StatusOK); err != nil {
		return nil, err
	}
	return &p, nil
}

// ChunkMap retrieves the rendered chunk map of a stored plan.
func (c *Client) ChunkMap(ctx context.Context, hash string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/plans/"+url.PathEscape(hash)+"/map", nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("get chunk map: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "get chunk map "+hash, http.StatusOK); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chunk map: %w", err)
	}
	return string(body), nil
}

// DeletePlan removes a stored plan and its cached artifacts.
func (c *Client) DeletePlan(ctx context.Context, hash string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/plans/"+url.PathEscape(hash), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(httpReq, "delete plan "+hash, nil, http.StatusOK)
}

// Merge asks the server to reconcile chunk results against a stored plan.
// A strict-mode integrity failure returns the report with
// merge.ErrIntegrityMismatch.
func (c *Client) Merge(ctx context.Context, hash string, results []merge.Result, opts merge.Options) (*MergeResponse, error) {
	body, err := json.Marshal(struct {
		Results []merge.Result `json:"results"`
		merge.Options
	}{results, opts})
	if err != nil {
		return nil, fmt.Errorf("marshal merge: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/plans/"+url.PathEscape(hash)+"/merge", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnprocessableEntity {
		var out MergeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode merge report: %w", err)
		}
		return &out, &merge.IntegrityError{Report: out.Report}
	}
	if err := checkStatus(resp, "merge "+hash, http.StatusOK); err != nil {
		return nil, err
	}
	var out MergeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode merge: %w", err)
	}
	return &out, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// do sends an authorized request and decodes a JSON body into out when out
// is non-nil.
func (c *Client) do(httpReq *http.Request, what string, out any, want int) error {
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, what, want); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

func checkStatus(resp *http.Response, what string, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: status %d: %s", what, resp.StatusCode, string(respBody))
}
