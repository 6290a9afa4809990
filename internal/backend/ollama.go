// Package backend implements the external systems tasks are dispatched to:
// an Ollama inference pool and sibling HTTP services.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/me/orchestra/internal/logging"
	"github.com/me/orchestra/pkg/model"
)

// DefaultOllamaURL is where a local Ollama daemon listens.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	URL     string
	Timeout time.Duration // per HTTP request; dispatch timeouts still apply
}

// Ollama talks to an Ollama daemon. It is both the health provider for the
// model pool and the invoker for generate payloads.
type Ollama struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewOllama creates a client for cfg.URL.
func NewOllama(cfg OllamaConfig, logger *slog.Logger) *Ollama {
	url := strings.TrimRight(cfg.URL, "/")
	if url == "" {
		url = DefaultOllamaURL
	}
	return &Ollama{
		url:    url,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.OrDiscard(logger).With("component", "ollama"),
	}
}

// URL returns the base URL of the daemon.
func (o *Ollama) URL() string { return o.url }

type ollamaVersion struct {
	Version string `json:"version"`
}

type ollamaTags struct {
	Models []ollamaModel `json:"models"`
}

type ollamaModel struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Size    int64  `json:"size"`
	Details struct {
		Family        string   `json:"family"`
		Families      []string `json:"families"`
		ParameterSize string   `json:"parameter_size"`
	} `json:"details"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model         string `json:"model"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration"`
}

// Ping checks that the daemon answers.
func (o *Ollama) Ping(ctx context.Context) error {
	var v ollamaVersion
	if err := o.getJSON(ctx, "/api/version", &v); err != nil {
		return err
	}
	o.logger.Debug("ping", "version", v.Version)
	return nil
}

// ListResources returns the models the daemon has pulled.
func (o *Ollama) ListResources(ctx context.Context) ([]model.Resource, error) {
	var tags ollamaTags
	if err := o.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}
	out := make([]model.Resource, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == "" {
			continue
		}
		var tagSet []string
		if m.Details.Family != "" {
			tagSet = append(tagSet, m.Details.Family)
		}
		for _, f := range m.Details.Families {
			if f != m.Details.Family {
				tagSet = append(tagSet, f)
			}
		}
		out = append(out, model.Resource{
			Name:           name,
			CapabilityTags: tagSet,
			SizeHint:       sizeHint(name, m.Details.ParameterSize, m.Size),
			Available:      true,
			Backend:        model.BackendOllama,
			Endpoint:       o.url,
		})
	}
	return out, nil
}

// Invoke runs a non-streaming generation on res. Raw payloads are posted to
// /api/generate as-is with the model name filled in.
func (o *Ollama) Invoke(ctx context.Context, res model.Resource, p model.Payload) (model.InvokeResult, error) {
	var body []byte
	var err error
	switch p.Kind {
	case model.PayloadGenerate:
		body, err = json.Marshal(generateRequest{Model: res.Name, Prompt: p.Prompt, System: p.System})
	case model.PayloadRaw:
		body, err = withModel(p.Data, res.Name)
	default:
		return model.InvokeResult{}, fmt.Errorf("%w: ollama cannot run %q payloads", model.ErrInvalidPayload, p.Kind)
	}
	if err != nil {
		return model.InvokeResult{}, fmt.Errorf("marshal generate request: %w", err)
	}

	start := time.Now()
	o.logger.Debug("generate", "model", res.Name)
	raw, err := o.post(ctx, "/api/generate", body)
	if err != nil {
		return model.InvokeResult{}, err
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return model.InvokeResult{}, fmt.Errorf("unmarshal generate response: %w", err)
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	if gen.TotalDuration > 0 {
		durationMs = float64(gen.TotalDuration) / 1e6
	}
	return model.InvokeResult{Output: raw, DurationMs: durationMs}, nil
}

func (o *Ollama) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	raw, err := o.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

func (o *Ollama) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return o.do(req)
}

func (o *Ollama) do(req *http.Request) ([]byte, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama %s: HTTP %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// withModel sets "model" on a raw JSON object.
func withModel(data json.RawMessage, name string) ([]byte, error) {
	obj := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("%w: raw payload must be a JSON object: %v", model.ErrInvalidPayload, err)
		}
	}
	obj["model"] = name
	if _, ok := obj["stream"]; !ok {
		obj["stream"] = false
	}
	return json.Marshal(obj)
}

var nameSize = regexp.MustCompile(`(?i)[:\-_](\d+(?:\.\d+)?)([bm])\b`)

// sizeHint estimates a model's size in billions of parameters, rounded up.
// It prefers the reported parameter size, then a size embedded in the name
// ("llama3:70b"), then the on-disk size in GB.
func sizeHint(name, parameterSize string, bytesOnDisk int64) int {
	if n, ok := parseParams(parameterSize); ok {
		return n
	}
	if m := nameSize.FindStringSubmatch(name); m != nil {
		if n, ok := parseParams(m[1] + m[2]); ok {
			return n
		}
	}
	if bytesOnDisk > 0 {
		return int(math.Ceil(float64(bytesOnDisk) / 1e9))
	}
	return 0
}

func parseParams(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 {
		return 0, false
	}
	scale := 1.0
	switch s[len(s)-1] {
	case 'B':
	case 'M':
		scale = 1e-3
	default:
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return int(math.Ceil(v * scale)), true
}
