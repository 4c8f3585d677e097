// Package anchor submits batch roots to an external, independently
// verifiable ledger. The client is a thin boundary: the contract and its
// chain are operated elsewhere.
package anchor

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

	"github.com/rs/zerolog"
)

// Submission carries a batch root and its metadata to the anchor contract.
type Submission struct {
	BatchID       string `json:"batch_id"`
	PrestateRoot  string `json:"prestate_root"`
	PoststateRoot string `json:"poststate_root"`
	EventCount    int    `json:"event_count"`
	ProofRef      string `json:"proof_ref,omitempty"`
}

// Client is the on-chain anchoring boundary. IsEnabled reports whether the
// deployment is configured for anchoring at all; callers skip submission
// when it is not.
type Client interface {
	IsEnabled() bool
	Submit(ctx context.Context, sub Submission) (string, error)
}

type httpClient struct {
	endpoint   string
	contract   string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewHTTPClient builds a client against the anchor relay endpoint. Empty
// endpoint or contract yields a disabled client, not an error: anchoring
// is an optional deployment feature.
func NewHTTPClient(endpoint, contract string, log zerolog.Logger) Client {
	return &httpClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		contract:   contract,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "anchor").Logger(),
	}
}

func (c *httpClient) IsEnabled() bool {
	return c.endpoint != "" && c.contract != ""
}

// Submit posts the submission and returns the transaction reference.
func (c *httpClient) Submit(ctx context.Context, sub Submission) (string, error) {
	if !c.IsEnabled() {
		return "", errors.New("anchor: client not configured")
	}
	if sub.BatchID == "" || sub.PoststateRoot == "" {
		return "", errors.New("anchor: batch id and poststate root are required")
	}
	body, err := json.Marshal(map[string]any{
		"contract":   c.contract,
		"submission": sub,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/anchor", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anchor: submit: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("anchor: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("anchor: submit returned %d: %s", resp.StatusCode, truncate(raw, 256))
	}
	var parsed struct {
		TxRef string `json:"tx_ref"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("anchor: decode response: %w", err)
	}
	if parsed.TxRef == "" {
		return "", errors.New("anchor: response missing tx_ref")
	}
	c.log.Info().Str("batch_id", sub.BatchID).Str("tx_ref", parsed.TxRef).Msg("batch root anchored")
	return parsed.TxRef, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
