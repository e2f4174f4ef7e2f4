package smp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brbxai/recommand-peppol-sub001/pkg/transport"
)

// maxErrorBody caps how much of a failed response is kept for diagnosis
const maxErrorBody = 4096

// RegistryError is returned for any non-2xx registry response.
type RegistryError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("SMP %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a registry 404.
func IsNotFound(err error) bool {
	var regErr *RegistryError
	return errors.As(err, &regErr) && regErr.StatusCode == http.StatusNotFound
}

// Observer receives one callback per registry call. Status is 0 when the
// request did not produce a response.
type Observer interface {
	ObserveRegistryCall(method string, status int, start time.Time)
}

// WriterConfig contains configuration for the registry writer
type WriterConfig struct {
	// BaseURL is the SMP root, e.g. "https://smp.example.com"
	BaseURL string
	// Token is sent as a bearer token on every request
	Token string
	// HTTPClient is the HTTP client to use (optional)
	// If nil, transport.NewHTTPClient(nil) is used
	HTTPClient *http.Client
	Observer   Observer
	Logger     *slog.Logger
}

// Writer performs authenticated writes against the operator SMP.
type Writer struct {
	baseURL    string
	token      string
	httpClient *http.Client
	observer   Observer
	logger     *slog.Logger
}

// NewWriter creates a new registry writer
func NewWriter(config WriterConfig) *Writer {
	client := config.HTTPClient
	if client == nil {
		client = transport.NewHTTPClient(nil)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Writer{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		token:      config.Token,
		httpClient: client,
		observer:   config.Observer,
		logger:     config.Logger,
	}
}

// BaseURL returns the SMP root this writer targets.
func (w *Writer) BaseURL() string {
	return w.baseURL
}

// Put creates or replaces the resource at path. Re-sending identical
// content succeeds without side effects on the registry.
func (w *Writer) Put(ctx context.Context, path string, body []byte) error {
	return w.do(ctx, http.MethodPut, path, body)
}

// Delete removes the resource at path. A missing resource yields a
// RegistryError with status 404; see IsNotFound.
func (w *Writer) Delete(ctx context.Context, path string) error {
	return w.do(ctx, http.MethodDelete, path, nil)
}

func (w *Writer) do(ctx context.Context, method, path string, body []byte) error {
	reqURL := w.baseURL + "/" + strings.TrimLeft(path, "/")

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	start := time.Now()
	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.observe(method, 0, start)
		return fmt.Errorf("SMP %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()
	w.observe(method, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RegistryError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	w.logger.Debug("SMP write succeeded", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}

func (w *Writer) observe(method string, status int, start time.Time) {
	if w.observer != nil {
		w.observer.ObserveRegistryCall(method, status, start)
	}
}
