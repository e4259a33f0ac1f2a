package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// Hook observes events and may alter the triggering action.
type Hook interface {
	Name() string
	// Kinds lists the events the hook wants. Empty means all.
	Kinds() []Kind
	Handle(ctx context.Context, ev Event) HookResult
}

// HookInfo describes a registered hook.
type HookInfo struct {
	Name     string `json:"name"`
	Kinds    []Kind `json:"kinds"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Source   string `json:"source"` // builtin or command
	Calls    int64  `json:"calls"`
	Blocks   int64  `json:"blocks"`
}

type entry struct {
	hook     Hook
	priority int
	enabled  bool
	source   string
	calls    int64
	blocks   int64
}

// Registry dispatches events to hooks in priority order and forwards every
// event to the bus for passive observers.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
	bus     *Bus
	logger  *logging.Logger
}

// NewRegistry creates a registry. bus may be nil.
func NewRegistry(bus *Bus, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{bus: bus, logger: logger}
}

// Register adds a hook. Lower priority runs first; ties keep registration order.
func (r *Registry) Register(h Hook, priority int) error {
	return r.register(h, priority, "builtin")
}

func (r *Registry) register(h Hook, priority int, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.hook.Name() == h.Name() {
			return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("hook %s already registered", h.Name()))
		}
	}
	r.entries = append(r.entries, &entry{hook: h, priority: priority, enabled: true, source: source})
	sort.SliceStable(r.entries, func(i, j int) bool { return r.entries[i].priority < r.entries[j].priority })
	return nil
}

// Unregister removes a hook by name.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.hook.Name() == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Enable turns a hook on.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable turns a hook off without removing it.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.hook.Name() == name {
			e.enabled = enabled
			return nil
		}
	}
	return core.ErrNotFound("hook", name)
}

// Names returns all hook names in dispatch order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.hook.Name()
	}
	return names
}

// List describes every hook in dispatch order.
func (r *Registry) List() []HookInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HookInfo, len(r.entries))
	for i, e := range r.entries {
		out[i] = HookInfo{
			Name:     e.hook.Name(),
			Kinds:    e.hook.Kinds(),
			Priority: e.priority,
			Enabled:  e.enabled,
			Source:   e.source,
			Calls:    e.calls,
			Blocks:   e.blocks,
		}
	}
	return out
}

// Emit runs enabled hooks subscribed to ev.Kind. A block stops dispatch; a
// modify replaces the payload seen by later hooks and returned to the caller.
func (r *Registry) Emit(ctx context.Context, ev Event) HookResult {
	r.mu.RLock()
	targets := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled && wants(e.hook, ev.Kind) {
			targets = append(targets, e)
		}
	}
	r.mu.RUnlock()

	result := Continue()
	for _, e := range targets {
		res := r.safeHandle(ctx, e.hook, ev)

		r.mu.Lock()
		e.calls++
		if res.Blocked() {
			e.blocks++
		}
		r.mu.Unlock()

		switch res.Action {
		case ActionBlock:
			r.logger.Info("hook blocked event", "hook", e.hook.Name(), "kind", ev.Kind, "reason", res.Reason)
			if r.bus != nil {
				r.bus.Publish(ev.With("blocked_by", e.hook.Name()))
			}
			return res
		case ActionModify:
			ev.Payload = res.Payload
			result = Modify(res.Payload)
		}
	}

	if r.bus != nil {
		r.bus.Publish(ev)
	}
	return result
}

func (r *Registry) safeHandle(ctx context.Context, h Hook, ev Event) (res HookResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("hook panicked", "hook", h.Name(), "kind", ev.Kind, "panic", fmt.Sprint(p))
			res = Continue()
		}
	}()
	return h.Handle(ctx, ev)
}

func wants(h Hook, k Kind) bool {
	kinds := h.Kinds()
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
