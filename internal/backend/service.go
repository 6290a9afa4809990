package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/pkg/model"
)

// HTTPService invokes sibling services reached over plain HTTP, e.g. a
// scraper or a sync worker. The target comes from Resource.Endpoint.
type HTTPService struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPService creates an HTTP invoker. timeout bounds every request.
func NewHTTPService(timeout time.Duration, logger *slog.Logger) *HTTPService {
	return &HTTPService{
		client: &http.Client{Timeout: timeout},
		logger: logging.OrDiscard(logger).With("component", "http_service"),
	}
}

// Invoke sends the payload to res.Endpoint. HTTP payloads go to
// {endpoint}/{path} with their method (POST by default); raw payloads are
// posted to the endpoint itself.
func (s *HTTPService) Invoke(ctx context.Context, res model.Resource, p model.Payload) (model.InvokeResult, error) {
	if res.Endpoint == "" {
		return model.InvokeResult{}, fmt.Errorf("resource %s has no endpoint", res.Name)
	}

	var method, url string
	var body []byte
	switch p.Kind {
	case model.PayloadHTTP:
		method = strings.ToUpper(p.Method)
		if method == "" {
			method = http.MethodPost
		}
		url = joinURL(res.Endpoint, p.Path)
		if p.Body != nil && method != http.MethodGet {
			b, err := json.Marshal(p.Body)
			if err != nil {
				return model.InvokeResult{}, fmt.Errorf("%w: marshal body: %v", model.ErrInvalidPayload, err)
			}
			body = b
		}
	case model.PayloadRaw:
		method = http.MethodPost
		url = res.Endpoint
		body = p.Data
	default:
		return model.InvokeResult{}, fmt.Errorf("%w: %s cannot run %q payloads", model.ErrInvalidPayload, res.Name, p.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return model.InvokeResult{}, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	s.logger.Debug("invoke", "resource", res.Name, "method", method, "url", url)
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return model.InvokeResult{}, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.InvokeResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.InvokeResult{}, fmt.Errorf("%s %s: HTTP %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return model.InvokeResult{
		Output:     asJSON(respBody),
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// ProbeResource issues GET {endpoint}/health.
func (s *HTTPService) ProbeResource(ctx context.Context, res model.Resource) error {
	if res.Endpoint == "" {
		return fmt.Errorf("resource %s has no endpoint", res.Name)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(res.Endpoint, "health"), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", res.Name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: HTTP %d", res.Name, resp.StatusCode)
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// asJSON keeps valid JSON as-is and wraps anything else as a JSON string.
func asJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	s, _ := json.Marshal(string(b))
	return s
}
