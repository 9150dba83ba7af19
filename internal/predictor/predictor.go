// Package predictor talks to the external scoring service. Every result is
// advisory: callers annotate entities with it but never gate a transition on it.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrDisabled = errors.New("predictor disabled")

type NoShowRequest struct {
	AppointmentID   string    `json:"appointment_id"`
	PatientID       string    `json:"patient_id"`
	Type            string    `json:"type"`
	Priority        string    `json:"priority"`
	AppointmentDate time.Time `json:"appointment_date"`
	Status          string    `json:"status"`
}

type NoShowPrediction struct {
	Probability float64 `json:"probability"`
	Rationale   string  `json:"rationale"`
}

type PriorityRequest struct {
	EntryID        string `json:"entry_id"`
	PatientID      string `json:"patient_id"`
	Department     string `json:"department"`
	PriorityLevel  string `json:"priority_level"`
	IsEmergency    bool   `json:"is_emergency"`
	ChiefComplaint string `json:"chief_complaint,omitempty"`
	Symptoms       string `json:"symptoms,omitempty"`
	VitalSigns     string `json:"vital_signs,omitempty"`
}

type PriorityPrediction struct {
	Score     float64 `json:"score"`
	Category  string  `json:"category"`
	Rationale string  `json:"rationale"`
}

type Predictor interface {
	PredictNoShow(ctx context.Context, req NoShowRequest) (NoShowPrediction, error)
	ScorePriority(ctx context.Context, req PriorityRequest) (PriorityPrediction, error)
	// ServiceDurations returns the rolling average service time per department.
	ServiceDurations(ctx context.Context) (map[string]time.Duration, error)
}

// New returns an HTTP predictor for baseURL, or Noop when baseURL is empty.
func New(baseURL string, timeout time.Duration) Predictor {
	if strings.TrimSpace(baseURL) == "" {
		return Noop{}
	}
	return NewHTTPClient(baseURL, timeout)
}

type Noop struct{}

func (Noop) PredictNoShow(ctx context.Context, req NoShowRequest) (NoShowPrediction, error) {
	return NoShowPrediction{}, ErrDisabled
}

func (Noop) ScorePriority(ctx context.Context, req PriorityRequest) (PriorityPrediction, error) {
	return PriorityPrediction{}, ErrDisabled
}

func (Noop) ServiceDurations(ctx context.Context) (map[string]time.Duration, error) {
	return nil, ErrDisabled
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPClient) PredictNoShow(ctx context.Context, req NoShowRequest) (NoShowPrediction, error) {
	var out NoShowPrediction
	if err := c.do(ctx, http.MethodPost, "/v1/no-show", req, &out); err != nil {
		return NoShowPrediction{}, err
	}
	if out.Probability < 0 || out.Probability > 1 {
		return NoShowPrediction{}, fmt.Errorf("no-show probability %v out of range", out.Probability)
	}
	return out, nil
}

func (c *HTTPClient) ScorePriority(ctx context.Context, req PriorityRequest) (PriorityPrediction, error) {
	var out PriorityPrediction
	if err := c.do(ctx, http.MethodPost, "/v1/priority", req, &out); err != nil {
		return PriorityPrediction{}, err
	}
	return out, nil
}

type durationsResponse struct {
	Departments map[string]float64 `json:"departments"`
}

func (c *HTTPClient) ServiceDurations(ctx context.Context) (map[string]time.Duration, error) {
	var out durationsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/service-durations", nil, &out); err != nil {
		return nil, err
	}
	durations := make(map[string]time.Duration, len(out.Departments))
	for department, minutes := range out.Departments {
		if minutes <= 0 {
			continue
		}
		durations[department] = time.Duration(minutes * float64(time.Minute))
	}
	return durations, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("predictor %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
