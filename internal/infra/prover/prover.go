// Package prover is the zero-knowledge prover boundary. Witness generation
// and circuit execution run in an external service; this client only ships
// witness JSON out and proofs back.
package prover

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
)

// Result is a generated proof with its public signals, both opaque to this
// service.
type Result struct {
	Proof         json.RawMessage `json:"proof"`
	PublicSignals json.RawMessage `json:"public_signals"`
}

// Prover produces a proof for the given circuit and witness.
type Prover interface {
	Prove(ctx context.Context, circuit string, witness map[string]any) (Result, error)
}

type httpProver struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPProver(endpoint string) (Prover, error) {
	if endpoint == "" {
		return nil, errors.New("prover: endpoint is required")
	}
	return &httpProver{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func (p *httpProver) Prove(ctx context.Context, circuit string, witness map[string]any) (Result, error) {
	if circuit == "" {
		return Result{}, errors.New("prover: circuit is required")
	}
	body, err := json.Marshal(map[string]any{
		"circuit": circuit,
		"witness": witness,
	})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/prove", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("prover: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Result{}, fmt.Errorf("prover: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("prover: returned %d for circuit %s", resp.StatusCode, circuit)
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("prover: decode response: %w", err)
	}
	if len(result.Proof) == 0 {
		return Result{}, errors.New("prover: response missing proof")
	}
	return result, nil
}
