// Package loki pushes violation events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // each entry is [timestamp_ns, log_line]
}

// labelSanitize replaces characters we keep out of label values.
var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// violationFields are the parts of a violation JSON used for labels and timestamp.
// user_id and session_id stay in the line; they are too high-cardinality for labels.
type violationFields struct {
	TenantID   string `json:"tenant_id"`
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
	OccurredAt string `json:"occurred_at"`
}

// Client pushes log lines to one Loki instance.
type Client struct {
	baseURL string
	job     string
	http    *http.Client
}

// NewClient returns a Client for baseURL (e.g. http://localhost:3100).
func NewClient(baseURL, job string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("loki: base URL is empty")
	}
	if job == "" {
		job = "tenantguard"
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		job:     job,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// PushViolationJSON parses a violation JSON (the Kafka message value), labels
// it by tenant, kind and severity, and pushes it. Unparseable input is pushed
// as-is with the current time.
func (c *Client) PushViolationJSON(ctx context.Context, raw []byte) error {
	labels := map[string]string{}
	ts := time.Now().UTC()
	var f violationFields
	if err := json.Unmarshal(raw, &f); err == nil {
		labels["tenant_id"] = f.TenantID
		labels["kind"] = f.Kind
		labels["severity"] = f.Severity
		if f.TenantID == "" {
			labels["tenant_id"] = "platform"
		}
		if t, err := time.Parse(time.RFC3339Nano, f.OccurredAt); err == nil {
			ts = t
		}
	}
	return c.Push(ctx, ts, string(raw), labels)
}

// Push sends a single log line with the given labels plus job.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = c.job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{
		Streams: []Stream{{
			Stream: streamLabels,
			Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
		}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
