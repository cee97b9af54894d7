package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ashureev/realtime-engine/internal/audit"
	"github.com/ashureev/realtime-engine/internal/ratelimit"
	"github.com/ashureev/realtime-engine/internal/registry"
)

// Supervisor owns the child set of ConnectionWorkers and applies a
// one-for-one restart policy: transient for the accept loop itself,
// temporary for every worker — a dead or crashed worker is never restarted,
// only removed. It also carries out the ordered startup/shutdown sequence.
type Supervisor struct {
	cfg *Config

	Registry    *registry.Registry
	AuditLog    *audit.Log
	RateLimiter *ratelimit.Limiter

	admission *rate.Limiter

	mu       sync.Mutex
	workers  map[string]*ConnectionWorker
	stopping bool

	nextID atomic.Int64
	wg     sync.WaitGroup
}

// NewSupervisor builds a Supervisor and its owned infrastructure (audit
// log, rate limiter, registry) in order: resolve config, start the audit
// log, start the rate limiter, start the registry.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	resolved := resolveConfig(cfg)
	if resolved.Store == nil {
		return nil, fmt.Errorf("realtime: a Store capability is required")
	}

	auditLog := audit.New(audit.Config{
		Tiers:      resolved.Audit.Tiers,
		MaxEntries: resolved.Audit.MaxEntries,
		OnEntry:    resolved.Audit.OnEntry,
	})

	var limiter *ratelimit.Limiter
	if resolved.RateLimit != nil {
		limiter = ratelimit.New(resolved.RateLimit.Limit, time.Duration(resolved.RateLimit.WindowMs)*time.Millisecond)
	}

	reg := registry.New()

	var admission *rate.Limiter
	if resolved.Admission.PerSecond > 0 {
		burst := resolved.Admission.Burst
		if burst <= 0 {
			burst = 1
		}
		admission = rate.NewLimiter(rate.Limit(resolved.Admission.PerSecond), burst)
	}

	return &Supervisor{
		cfg:         &resolved,
		Registry:    reg,
		AuditLog:    auditLog,
		RateLimiter: limiter,
		admission:   admission,
		workers:     make(map[string]*ConnectionWorker),
	}, nil
}

// Accept admits a newly opened transport, spawning a ConnectionWorker for
// it unless the supervisor is stopping or the connection-admission limiter
// rejects it. Returns nil in either rejection case, after closing transport
// itself.
func (s *Supervisor) Accept(ctx context.Context, transport Transport, remoteAddress string) *ConnectionWorker {
	if s.admission != nil && !s.admission.Allow() {
		_ = transport.Close(1013, "try_again_later")
		return nil
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = transport.Close(1001, "server_shutdown")
		return nil
	}
	id := fmt.Sprintf("conn-%d", s.nextID.Add(1))
	worker := newConnectionWorker(id, remoteAddress, transport, s.cfg, s.Registry, s.AuditLog, s.RateLimiter, ctx)
	s.workers[id] = worker
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		worker.Run()
		s.mu.Lock()
		delete(s.workers, id)
		s.mu.Unlock()
	}()
	return worker
}

// Count returns the number of currently live workers.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Stop performs the graceful shutdown sequence: mark the
// supervisor as stopping (so Accept rejects new connections), fan out a
// Shutdown notice to every live worker, wait up to GracePeriodMs for them to
// wind down on their own, force-terminate any stragglers, then release the
// rate limiter.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	workers := make([]*ConnectionWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	eg, _ := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		eg.Go(func() error {
			w.PostShutdown()
			return nil
		})
	}
	_ = eg.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := time.Duration(s.cfg.GracePeriodMs) * time.Millisecond
	select {
	case <-done:
	case <-time.After(grace):
		s.mu.Lock()
		remaining := make([]*ConnectionWorker, 0, len(s.workers))
		for _, w := range s.workers {
			remaining = append(remaining, w)
		}
		s.mu.Unlock()
		for _, w := range remaining {
			w.ForceTerminate()
		}
		<-done
	}

	if s.RateLimiter != nil {
		s.RateLimiter.Close()
	}
	return nil
}
