package verification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/metrics"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/camera"
)

// Client bundles one browser's orchestrator with the frame buffer feeding it.
type Client struct {
	ID           string
	Orchestrator *Orchestrator
	Frames       *camera.FrameBuffer

	lastSeen time.Time
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	FrameMaxAge  time.Duration
	IdleTTL      time.Duration
	Orchestrator Options

	// OnEvict runs after a client is dropped, outside the registry lock.
	OnEvict func(clientID string)
}

// Registry keeps one verification session per client id.
type Registry struct {
	analyzer Analyzer
	recorder Recorder
	opts     RegistryOptions
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	// evicted sessions whose scan may still be persisting
	retired []*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry(analyzer Analyzer, recorder Recorder, opts RegistryOptions) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	return &Registry{
		analyzer: analyzer,
		recorder: recorder,
		opts:     opts,
		now:      time.Now,
		log:      logging.For("registry"),
		clients:  make(map[string]*Client),
	}
}

// Get returns the client's session, creating it on first use.
func (r *Registry) Get(clientID string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		frames := camera.NewFrameBuffer(r.opts.FrameMaxAge)
		c = &Client{
			ID:           clientID,
			Frames:       frames,
			Orchestrator: New(frames, r.analyzer, r.recorder, r.opts.Orchestrator),
		}
		r.clients[clientID] = c
		r.log.Debug().Str("client_id", clientID).Msg("client session created")
		r.metrics().SetActiveSessions(len(r.clients))
	}
	c.lastSeen = r.now()
	return c
}

// Lookup returns an existing session without creating or touching it.
func (r *Registry) Lookup(clientID string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	return c, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Sweep evicts sessions idle for longer than the TTL. Sessions in the middle
// of prompting or analysis are kept. It returns the evicted ids.
func (r *Registry) Sweep() []string {
	cutoff := r.now().Add(-r.opts.IdleTTL)

	r.mu.Lock()
	var evicted []string
	for id, c := range r.clients {
		if c.lastSeen.After(cutoff) {
			continue
		}
		if err := c.Orchestrator.Discard(); err != nil {
			continue
		}
		delete(r.clients, id)
		evicted = append(evicted, id)
		r.retired = append(r.retired, c.Orchestrator)
	}
	live := r.retired[:0]
	for _, o := range r.retired {
		if o.Persisting() {
			live = append(live, o)
		}
	}
	clear(r.retired[len(live):])
	r.retired = live
	n := len(r.clients)
	r.mu.Unlock()

	r.metrics().SetActiveSessions(n)
	for _, id := range evicted {
		r.log.Info().Str("client_id", id).Msg("idle client session evicted")
		if r.opts.OnEvict != nil {
			r.opts.OnEvict(id)
		}
	}
	return evicted
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Drain waits for pending background persistence of every session,
// including sessions already evicted by Sweep.
func (r *Registry) Drain() {
	r.mu.Lock()
	pending := make([]*Orchestrator, 0, len(r.clients)+len(r.retired))
	for _, c := range r.clients {
		pending = append(pending, c.Orchestrator)
	}
	pending = append(pending, r.retired...)
	r.retired = nil
	r.mu.Unlock()

	for _, o := range pending {
		o.Wait()
	}
}

func (r *Registry) metrics() *metrics.Collectors {
	return r.opts.Orchestrator.Metrics
}
