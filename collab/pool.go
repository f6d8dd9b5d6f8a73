package collab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"tripsync/docstore"
)

const (
	DefaultIdleTTL     = 5 * time.Minute
	DefaultMaxReplicas = 1024
)

type poolEntry[T any] struct {
	replica  *Replica[T]
	refs     int
	lastUsed time.Time
}

// Pool hands out one started Replica per path, so every request touching the same
// document shares its local copy and mutation pipeline. Replicas nobody holds are
// stopped once idle for longer than the idle TTL, or earlier when the pool is full.
type Pool[T any] struct {
	store *docstore.Store
	cfg   Config[T]
	clock clockwork.Clock

	idleTTL     time.Duration
	maxReplicas int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	replicas map[string]*poolEntry[T]
}

type PoolOption func(*poolOptions)

type poolOptions struct {
	idleTTL     time.Duration
	maxReplicas int
}

// WithIdleTTL sets how long an unreferenced replica stays subscribed.
func WithIdleTTL(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.idleTTL = d }
}

// WithMaxReplicas caps the number of replicas kept while idle.
func WithMaxReplicas(n int) PoolOption {
	return func(o *poolOptions) { o.maxReplicas = n }
}

// NewPool creates a pool; cfg.Path is ignored and set per replica. The idle sweep
// runs on cfg.Clock until Close.
func NewPool[T any](store *docstore.Store, cfg Config[T], opts ...PoolOption) *Pool[T] {
	o := poolOptions{idleTTL: DefaultIdleTTL, maxReplicas: DefaultMaxReplicas}
	for _, opt := range opts {
		opt(&o)
	}
	if o.idleTTL <= 0 {
		o.idleTTL = DefaultIdleTTL
	}
	if o.maxReplicas <= 0 {
		o.maxReplicas = DefaultMaxReplicas
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T]{
		store:       store,
		cfg:         cfg,
		clock:       cfg.Clock,
		idleTTL:     o.idleTTL,
		maxReplicas: o.maxReplicas,
		ctx:         ctx,
		cancel:      cancel,
		replicas:    make(map[string]*poolEntry[T]),
	}
	go p.sweep()
	return p
}

func (p *Pool[T]) sweep() {
	ticker := p.clock.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.evictIdle()
		}
	}
}

func (p *Pool[T]) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	for path, e := range p.replicas {
		if e.refs == 0 && now.Sub(e.lastUsed) >= p.idleTTL {
			e.replica.Stop()
			delete(p.replicas, path)
		}
	}
}

// evictOldestLocked drops the least recently used unreferenced replica.
func (p *Pool[T]) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for path, e := range p.replicas {
		if e.refs > 0 {
			continue
		}
		if oldest == "" || e.lastUsed.Before(oldestAt) {
			oldest, oldestAt = path, e.lastUsed
		}
	}
	if oldest != "" {
		p.replicas[oldest].replica.Stop()
		delete(p.replicas, oldest)
	}
}

// Acquire returns the replica for path, loading and subscribing it on first use.
// The replica stays in the pool at least until release is called.
func (p *Pool[T]) Acquire(ctx context.Context, path string) (replica *Replica[T], release func(), err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.replicas[path]
	if !ok {
		if p.ctx.Err() != nil {
			return nil, nil, fmt.Errorf("collab: pool closed")
		}
		for len(p.replicas) >= p.maxReplicas && p.hasIdleLocked() {
			p.evictOldestLocked()
		}

		cfg := p.cfg
		cfg.Path = path
		r := NewReplica(p.store, cfg)
		// subscribe first so no change slips between the read and the subscription
		if err := r.Start(p.ctx); err != nil {
			return nil, nil, err
		}
		if err := r.Refresh(ctx); err != nil {
			r.Stop()
			return nil, nil, err
		}
		e = &poolEntry[T]{replica: r}
		p.replicas[path] = e
	}
	e.refs++
	e.lastUsed = p.clock.Now()

	var once sync.Once
	return e.replica, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			e.refs--
			e.lastUsed = p.clock.Now()
		})
	}, nil
}

func (p *Pool[T]) hasIdleLocked() bool {
	for _, e := range p.replicas {
		if e.refs == 0 {
			return true
		}
	}
	return false
}

func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.replicas)
}

// Close stops every replica and the idle sweep.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, e := range p.replicas {
		e.replica.Stop()
		delete(p.replicas, path)
	}
	p.cancel()
}
