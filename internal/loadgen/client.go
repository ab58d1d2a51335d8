package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the ktrace HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("healthz returned %d", status)
	}
	return nil
}

// TraceReport mirrors the trace section of a response.
type TraceReport struct {
	Applied    int `json:"applied"`
	Skipped    int `json:"skipped"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
}

// ConceptState mirrors one concept of a knowledge state.
type ConceptState struct {
	ConceptID   string  `json:"concept_id"`
	Probability float64 `json:"probability"`
	Evidence    int64   `json:"evidence"`
}

// KnowledgeState mirrors the knowledge_state section of a response.
type KnowledgeState struct {
	ConceptsMastered   []string       `json:"concepts_mastered"`
	ConceptsStruggling []string       `json:"concepts_struggling"`
	OverallProficiency float64        `json:"overall_proficiency_estimate"`
	ConceptsEvaluated  int            `json:"concepts_evaluated"`
	Concepts           []ConceptState `json:"concepts"`
}

// TraceResult is the body of POST /api/trace.
type TraceResult struct {
	Status         string         `json:"status"`
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	KnowledgeState KnowledgeState `json:"knowledge_state"`
	Trace          TraceReport    `json:"trace"`
}

// Trace submits one attempt synchronously.
func (c *Client) Trace(ctx context.Context, a *Attempt) (int, TraceResult, error) {
	var res TraceResult
	status, err := c.do(ctx, http.MethodPost, "/api/trace", a, &res)
	return status, res, err
}

type asyncAck struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Enqueue submits one attempt to the async queue and reports whether the
// server already had it queued.
func (c *Client) Enqueue(ctx context.Context, a *Attempt) (int, bool, error) {
	var ack asyncAck
	status, err := c.do(ctx, http.MethodPost, "/api/trace/async", a, &ack)
	return status, ack.Duplicate, err
}

// State reads a knowledge state without applying evidence.
func (c *Client) State(ctx context.Context, userID, courseID string) (KnowledgeState, error) {
	var res struct {
		Status         string         `json:"status"`
		Message        string         `json:"message"`
		KnowledgeState KnowledgeState `json:"knowledge_state"`
	}
	q := url.Values{"userid": {userID}, "courseid": {courseID}}
	status, err := c.do(ctx, http.MethodGet, "/api/knowledge_state?"+q.Encode(), nil, &res)
	if err != nil {
		return KnowledgeState{}, err
	}
	if status != http.StatusOK {
		return KnowledgeState{}, fmt.Errorf("knowledge_state returned %d: %s", status, res.Message)
	}
	return res.KnowledgeState, nil
}

// InFlight reads the number of queued attempts from /stats.
func (c *Client) InFlight(ctx context.Context) (int, error) {
	var stats struct {
		InFlight int `json:"inFlight"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return 0, err
	}
	return stats.InFlight, nil
}
