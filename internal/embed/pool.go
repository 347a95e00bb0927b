package embed

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolClosed is returned for submissions after Close.
var ErrPoolClosed = errors.New("embedder pool is closed")

// PoolConfig configures the bounded embedding pool.
type PoolConfig struct {
	// Size caps the number of concurrent provider sessions.
	Size int
	// BatchSize caps how many texts are sent per provider call.
	BatchSize int
	// SessionTimeout reclaims sessions idle longer than this.
	SessionTimeout time.Duration
	// EnableCleanup runs the idle-session reaper.
	EnableCleanup bool
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:           4,
		BatchSize:      32,
		SessionTimeout: 5 * time.Minute,
		EnableCleanup:  true,
	}
}

type session struct {
	provider Provider
	lastUsed time.Time
}

// Pool is a bounded worker pool around embedding provider sessions. Callers
// submit batches and block until a slot is free, which is the back-pressure
// mechanism for everything upstream. Idle sessions are reclaimed and
// recreated on demand from the factory.
type Pool struct {
	factory   func() (Provider, error)
	cfg       PoolConfig
	dimension int

	slots chan struct{}

	mu     sync.Mutex
	idle   []*session
	closed bool

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// NewPool creates a Pool. The factory is invoked lazily: sessions are only
// created when a batch needs one and none is idle. dimension must match what
// the factory's providers produce.
func NewPool(factory func() (Provider, error), dimension int, cfg PoolConfig) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	p := &Pool{
		factory:    factory,
		cfg:        cfg,
		dimension:  dimension,
		slots:      make(chan struct{}, cfg.Size),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	for i := 0; i < cfg.Size; i++ {
		p.slots <- struct{}{}
	}
	if cfg.EnableCleanup && cfg.SessionTimeout > 0 {
		go p.reapIdleSessions()
	} else {
		close(p.reaperDone)
	}
	return p
}

// Dimension is stable for the life of the pool.
func (p *Pool) Dimension() int { return p.dimension }

// Process embeds all texts, splitting them into batches of at most
// BatchSize. A failing batch fails the whole call with a single error; the
// orchestrator decides whether to continue with other work.
func (p *Pool) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := p.processBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// Embed makes Pool usable anywhere a Provider is expected.
func (p *Pool) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.Process(ctx, texts)
}

func (p *Pool) processBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case _, ok := <-p.slots:
		if !ok {
			return nil, ErrPoolClosed
		}
	}
	defer func() { p.releaseSlot() }()

	sess, err := p.takeSession()
	if err != nil {
		return nil, err
	}

	vectors, err := sess.provider.Embed(ctx, texts)
	if err != nil {
		// A failed session is discarded, not returned to the pool.
		closeProvider(sess.provider)
		return nil, err
	}
	for _, v := range vectors {
		if len(v) != p.dimension {
			closeProvider(sess.provider)
			return nil, ErrDimensionMismatch
		}
	}

	sess.lastUsed = time.Now()
	p.putSession(sess)
	return vectors, nil
}

func (p *Pool) releaseSlot() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.slots <- struct{}{}
	}
}

func (p *Pool) takeSession() (*session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		sess := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return sess, nil
	}
	p.mu.Unlock()

	provider, err := p.factory()
	if err != nil {
		return nil, err
	}
	return &session{provider: provider}, nil
}

func (p *Pool) putSession(sess *session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		closeProvider(sess.provider)
		return
	}
	p.idle = append(p.idle, sess)
}

// reapIdleSessions closes sessions unused for longer than SessionTimeout.
// They are recreated on demand by the next batch.
func (p *Pool) reapIdleSessions() {
	defer close(p.reaperDone)
	interval := p.cfg.SessionTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			return
		case now := <-ticker.C:
			p.mu.Lock()
			kept := p.idle[:0]
			for _, sess := range p.idle {
				if now.Sub(sess.lastUsed) > p.cfg.SessionTimeout {
					closeProvider(sess.provider)
				} else {
					kept = append(kept, sess)
				}
			}
			p.idle = kept
			p.mu.Unlock()
		}
	}
}

// Close reclaims all sessions. In-flight batches finish; new submissions
// fail with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, sess := range p.idle {
		closeProvider(sess.provider)
	}
	p.idle = nil
	close(p.slots)
	p.mu.Unlock()

	close(p.stopReaper)
	<-p.reaperDone
	return nil
}

func closeProvider(p Provider) {
	if c, ok := p.(Closer); ok {
		_ = c.Close()
	}
}

var _ Provider = (*Pool)(nil)
