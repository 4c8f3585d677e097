// Package storage is the proof-artifact object store boundary: put/get by
// key against an HTTP object endpoint.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ObjectStore stores proof artifacts by key. Put returns a location
// reference usable in job records and anchor submissions.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

type httpStore struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPStore(baseURL string) (ObjectStore, error) {
	if baseURL == "" {
		return nil, errors.New("storage: base url is required")
	}
	return &httpStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *httpStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	location := s.objectURL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, location, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", key, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("storage: put %s returned %d", key, resp.StatusCode)
	}
	return location, nil
}

func (s *httpStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("storage: key is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: get %s returned %d", key, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}

func (s *httpStore) objectURL(key string) string {
	// Keys may contain slashes; escape each segment separately.
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}
