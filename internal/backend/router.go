package backend

import (
	"context"
	"fmt"

	"github.com/me/orchestra/pkg/model"
)

// Router sends each invocation to the backend named by Resource.Backend.
// Resources with no backend set go to Ollama.
type Router struct {
	ollama  *Ollama
	service *HTTPService
}

// NewRouter creates a router. Either backend may be nil, in which case
// resources that need it fail to invoke.
func NewRouter(ollama *Ollama, service *HTTPService) *Router {
	return &Router{ollama: ollama, service: service}
}

// Invoke implements dispatch.Invoker.
func (r *Router) Invoke(ctx context.Context, res model.Resource, p model.Payload) (model.InvokeResult, error) {
	switch res.Backend {
	case model.BackendOllama, "":
		if r.ollama == nil {
			return model.InvokeResult{}, fmt.Errorf("resource %s: ollama backend not configured", res.Name)
		}
		return r.ollama.Invoke(ctx, res, p)
	case model.BackendHTTP:
		if r.service == nil {
			return model.InvokeResult{}, fmt.Errorf("resource %s: http backend not configured", res.Name)
		}
		return r.service.Invoke(ctx, res, p)
	default:
		return model.InvokeResult{}, fmt.Errorf("resource %s: unknown backend %q", res.Name, res.Backend)
	}
}

// ProbeResource implements health.LocalProber for pinned resources.
func (r *Router) ProbeResource(ctx context.Context, res model.Resource) error {
	switch res.Backend {
	case model.BackendHTTP:
		if r.service == nil {
			return fmt.Errorf("resource %s: http backend not configured", res.Name)
		}
		return r.service.ProbeResource(ctx, res)
	default:
		if r.ollama == nil {
			return fmt.Errorf("resource %s: ollama backend not configured", res.Name)
		}
		return r.ollama.Ping(ctx)
	}
}
