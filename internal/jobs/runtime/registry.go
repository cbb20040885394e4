package runtime

import (
	"fmt"
	"sync"

	"github.com/halcyonsky/astropipe-backend/internal/domain/jobs"
)

// Handler executes one processing type end to end. Handlers report terminal
// outcomes through the runtime Context; a returned error is a safety net for
// handlers that bail before reaching FailOrRetry.
type Handler interface {
	Type() jobs.ProcessingType
	Run(jc *Context) error
}

// Registry maps processing types to handlers. Registration happens at
// start-up; lookups afterwards are read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[jobs.ProcessingType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[jobs.ProcessingType]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for processing_type=%s", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(t jobs.ProcessingType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

func (r *Registry) Types() []jobs.ProcessingType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]jobs.ProcessingType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
