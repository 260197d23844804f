// Package ghstore talks to the GitHub contents API, treating a repository as a
// key/value store of JSON documents with per-document revision tokens (blob SHAs).
package ghstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrConflict     = errors.New("revision conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	if e.Path == "" {
		return "revision conflict"
	}
	return fmt.Sprintf("revision conflict for %s", e.Path)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

type UnauthorizedError struct {
	Path    string
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unauthorized write to %s", e.Path)
	}
	return fmt.Sprintf("unauthorized write to %s: %s", e.Path, e.Message)
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Document is the unit exchanged with the remote store. Revision is empty for
// reads served from the raw content endpoint, which does not expose blob SHAs.
type Document struct {
	Path     string
	Content  []byte
	Revision string
}

// Store is the remote document store consumed by the roster repository and the
// notification poller. Implementations must return ErrNotFound for absent
// documents and ErrConflict for writes whose expected revision went stale.
type Store interface {
	// Get reads the current content of the document at path.
	Get(ctx context.Context, path string) (Document, error)
	// Stat resolves the current revision token of the document at path.
	Stat(ctx context.Context, path, credential string) (string, error)
	// Put writes content under the expected revision token. An empty
	// expectedRevision means "create". Returns the new revision token.
	Put(ctx context.Context, path string, content []byte, expectedRevision, message, credential string) (string, error)
}

type Options struct {
	Owner      string
	Repo       string
	Branch     string
	APIBaseURL string
	RawBaseURL string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type HTTPStore struct {
	owner      string
	repo       string
	branch     string
	apiBase    string
	rawBase    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

func NewHTTPStore(opts Options) (*HTTPStore, error) {
	owner := strings.TrimSpace(opts.Owner)
	repo := strings.TrimSpace(opts.Repo)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}
	branch := strings.TrimSpace(opts.Branch)
	if branch == "" {
		branch = "main"
	}
	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBaseURL), "/")
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	rawBase := strings.TrimRight(strings.TrimSpace(opts.RawBaseURL), "/")
	if rawBase == "" {
		rawBase = "https://raw.githubusercontent.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPStore{
		owner:      owner,
		repo:       repo,
		branch:     branch,
		apiBase:    apiBase,
		rawBase:    rawBase,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		now:        time.Now,
	}, nil
}

func (s *HTTPStore) Get(ctx context.Context, path string) (Document, error) {
	// Raw reads bypass the API quota and the contents-endpoint size cap. The
	// timestamp query defeats the CDN cache so polls see fresh content.
	url := fmt.Sprintf("%s/%s/%s/%s/%s?t=%d",
		s.rawBase, s.owner, s.repo, s.branch, strings.TrimPrefix(path, "/"), s.now().UnixNano())
	body, _, err := s.doRequest(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return Document{}, err
	}
	return Document{Path: path, Content: body}, nil
}

func (s *HTTPStore) Stat(ctx context.Context, path, credential string) (string, error) {
	url := fmt.Sprintf("%s?ref=%s", s.contentsURL(path), s.branch)
	body, _, err := s.doRequest(ctx, http.MethodGet, url, nil, credential)
	if err != nil {
		return "", err
	}
	var meta struct {
		SHA string `json:"sha"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("decode contents metadata for %s: %w", path, err)
	}
	return meta.SHA, nil
}

func (s *HTTPStore) Put(ctx context.Context, path string, content []byte, expectedRevision, message, credential string) (string, error) {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  s.branch,
	}
	if expectedRevision != "" {
		payload["sha"] = expectedRevision
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	respBody, status, err := s.doRequest(ctx, http.MethodPut, s.contentsURL(path), bodyBytes, credential)
	if err != nil {
		if status == http.StatusConflict || status == http.StatusUnprocessableEntity {
			return "", &ConflictError{Path: path}
		}
		return "", err
	}
	var result struct {
		Content struct {
			SHA string `json:"sha"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode write result for %s: %w", path, err)
	}
	return result.Content.SHA, nil
}

func (s *HTTPStore) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", s.apiBase, s.owner, s.repo, strings.TrimPrefix(path, "/"))
}

// doRequest performs one logical request with bounded retry on transient
// failures. Conflict, unauthorized and not-found responses are never retried.
func (s *HTTPStore) doRequest(ctx context.Context, method, url string, body []byte, credential string) ([]byte, int, error) {
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if credential != "" {
			req.Header.Set("Authorization", "token "+credential)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if attempt < s.maxRetries {
				if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, 0, waitErr
				}
				continue
			}
			return nil, 0, err
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, resp.StatusCode, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < s.maxRetries {
			if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, resp.StatusCode, waitErr
			}
			continue
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, resp.StatusCode, ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, resp.StatusCode, &UnauthorizedError{Path: url, Message: apiErrorMessage(respBody)}
		}
		return nil, resp.StatusCode, &HTTPError{StatusCode: resp.StatusCode, Message: apiErrorMessage(respBody)}
	}
}

func apiErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && strings.TrimSpace(payload.Message) != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func (s *HTTPStore) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > s.maxDelay {
			return s.maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
