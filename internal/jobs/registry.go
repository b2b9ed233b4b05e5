package jobs

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Policy controls retries and failure retention for a job type.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// KeepFailed bounds how many exhausted jobs are retained for inspection.
	KeepFailed int
}

// DefaultPolicy applies to types registered without one.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     time.Minute,
	KeepFailed:     100,
}

func (p Policy) withDefaults(def Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.KeepFailed <= 0 {
		p.KeepFailed = def.KeepFailed
	}
	return p
}

type registration struct {
	handler Handler
	policy  Policy
}

// Registry maps job types to handlers. It is built once at startup and read
// concurrently afterwards.
type Registry struct {
	def     Policy
	entries map[Type]registration
}

func NewRegistry(def Policy) *Registry {
	return &Registry{def: def.withDefaults(DefaultPolicy), entries: map[Type]registration{}}
}

// Register binds h to t. A zero Policy uses the registry default.
func (r *Registry) Register(t Type, h Handler, p Policy) {
	r.entries[t] = registration{handler: h, policy: p.withDefaults(r.def)}
}

func (r *Registry) lookup(t Type) (registration, bool) {
	reg, ok := r.entries[t]
	return reg, ok
}

// Handler returns the handler bound to t.
func (r *Registry) Handler(t Type) (Handler, bool) {
	reg, ok := r.entries[t]
	return reg.handler, ok
}

// Policy returns the effective policy for t.
func (r *Registry) Policy(t Type) Policy {
	if reg, ok := r.entries[t]; ok {
		return reg.policy
	}
	return r.def
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []Type {
	out := make([]Type, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require fails when any of types has no handler.
func (r *Registry) Require(types ...Type) error {
	var missing []string
	for _, t := range types {
		if _, ok := r.entries[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("no handler registered for job types: %s", strings.Join(missing, ", "))
	}
	return nil
}
