package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
)

// ErrEmptyProxyList signals that an explicitly supplied proxy list parsed to
// nothing. A proxy file that is merely absent or empty is not an error; the
// pool just stays empty and sessions run direct.
var ErrEmptyProxyList = errors.New("proxy list is empty")

// Prober tests a single endpoint and reports its exit IP. Implemented by
// Checker; faked in tests.
type Prober interface {
	Probe(ctx context.Context, ep *Endpoint) (ProbeResult, error)
}

// ProbeResult is the outcome of one successful endpoint probe.
type ProbeResult struct {
	ExitIP  string
	Latency time.Duration
}

// Pool holds the loaded proxy endpoints and hands them out to sessions.
// The ranked slice is rebuilt by Validate; until then every loaded endpoint
// is eligible.
type Pool struct {
	logger *zap.Logger
	prober Prober
	// workers caps concurrent validation probes.
	workers int

	mu     sync.RWMutex
	all    []*Endpoint
	ranked []*Endpoint
}

// NewPool creates an empty pool. The prober may be nil when validation will
// never be requested.
func NewPool(logger *zap.Logger, prober Prober, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		logger:  logger.Named("proxy_pool"),
		prober:  prober,
		workers: workers,
	}
}

// LoadOptions carries the per-source inputs for Load.
type LoadOptions struct {
	Manual   string
	Multi    string
	FilePath string
	// Fetched supplies pre-fetched endpoints for the auto source.
	Fetched []*Endpoint
}

// Load populates the pool from the configured source. Calling Load replaces
// any previous contents.
func (p *Pool) Load(source config.ProxySource, opts LoadOptions) error {
	var eps []*Endpoint

	switch source {
	case config.ProxySourceNone:
		// Sessions run with the machine's own address.

	case config.ProxySourceManual:
		eps = ParseLines(opts.Manual)
		if len(eps) == 0 {
			return fmt.Errorf("manual proxy %q: %w", opts.Manual, ErrEmptyProxyList)
		}

	case config.ProxySourceMultiManual:
		eps = ParseLines(opts.Multi)
		if len(eps) == 0 {
			return ErrEmptyProxyList
		}

	case config.ProxySourceFile:
		data, err := os.ReadFile(opts.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				p.logger.Warn("Proxy file not found, continuing without proxies.",
					zap.String("path", opts.FilePath))
				break
			}
			return fmt.Errorf("reading proxy file %s: %w", opts.FilePath, err)
		}
		eps = ParseLines(string(data))
		if len(eps) == 0 {
			p.logger.Warn("Proxy file contained no usable entries.",
				zap.String("path", opts.FilePath))
		}

	case config.ProxySourceAuto:
		eps = opts.Fetched

	default:
		return fmt.Errorf("unknown proxy source %q", source)
	}

	eps = dedupe(eps)

	p.mu.Lock()
	p.all = eps
	p.ranked = eps
	p.mu.Unlock()

	p.logger.Info("Proxy pool loaded.",
		zap.String("source", string(source)),
		zap.Int("count", len(eps)))
	return nil
}

func dedupe(eps []*Endpoint) []*Endpoint {
	seen := make(map[string]struct{}, len(eps))
	out := eps[:0]
	for _, ep := range eps {
		if _, ok := seen[ep.Key()]; ok {
			continue
		}
		seen[ep.Key()] = struct{}{}
		out = append(out, ep)
	}
	return out
}

// Validate probes every loaded endpoint concurrently and rebuilds the ranked
// list from the survivors, best success rate first. The sort is stable so
// endpoints with equal rates keep their load order. An empty pool is a no-op.
func (p *Pool) Validate(ctx context.Context) error {
	p.mu.RLock()
	eps := make([]*Endpoint, len(p.all))
	copy(eps, p.all)
	p.mu.RUnlock()

	if len(eps) == 0 {
		return nil
	}
	if p.prober == nil {
		return errors.New("pool has no prober configured")
	}

	p.logger.Info("Validating proxies.", zap.Int("count", len(eps)))

	sem := semaphore.NewWeighted(int64(p.workers))
	var wg sync.WaitGroup
	working := make([]*Endpoint, len(eps))

	for i, ep := range eps {
		if err := sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("proxy validation interrupted: %w", err)
		}
		wg.Add(1)
		go func(slot int, ep *Endpoint) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := p.prober.Probe(ctx, ep)
			if err != nil {
				ep.MarkFailure()
				p.logger.Debug("Proxy failed probe.",
					zap.String("proxy", ep.Addr()), zap.Error(err))
				return
			}
			ep.MarkSuccess(res.ExitIP, res.Latency)
			working[slot] = ep
		}(i, ep)
	}
	wg.Wait()

	ranked := make([]*Endpoint, 0, len(eps))
	for _, ep := range working {
		if ep != nil {
			ranked = append(ranked, ep)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].SuccessRate() > ranked[j].SuccessRate()
	})

	p.mu.Lock()
	p.ranked = ranked
	p.mu.Unlock()

	p.logger.Info("Proxy validation finished.",
		zap.Int("working", len(ranked)),
		zap.Int("total", len(eps)))
	return nil
}

// Assign returns the endpoint for a session index using round-robin over the
// ranked list: index i maps to ranked[i mod len]. The same index always maps
// to the same endpoint for a given ranking. Returns nil when the pool is
// empty; direct connection is a valid assignment, not an error.
func (p *Pool) Assign(sessionIndex int) *Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.ranked) == 0 {
		return nil
	}
	ep := p.ranked[sessionIndex%len(p.ranked)]
	ep.MarkUsed()
	return ep
}

// PickAny returns a uniformly random ranked endpoint, or nil when empty.
// Used by ad-hoc tooling; orchestrated sessions always go through Assign.
func (p *Pool) PickAny() *Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.ranked) == 0 {
		return nil
	}
	ep := p.ranked[rand.Intn(len(p.ranked))]
	ep.MarkUsed()
	return ep
}

// Ranked returns a copy of the current ranked list.
func (p *Pool) Ranked() []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Endpoint, len(p.ranked))
	copy(out, p.ranked)
	return out
}

// Size returns the number of loaded endpoints.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.all)
}

// Stats summarizes the pool for status reporting.
type Stats struct {
	Total   int              `json:"total"`
	Working int              `json:"working"`
	Proxies []EndpointStatus `json:"proxies"`
}

// EndpointStatus is the reportable view of a single endpoint.
type EndpointStatus struct {
	Addr     string         `json:"addr"`
	Protocol string         `json:"protocol"`
	Health   EndpointHealth `json:"health"`
}

// Stats returns a snapshot of the pool's state.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{Total: len(p.all), Working: len(p.ranked)}
	for _, ep := range p.ranked {
		s.Proxies = append(s.Proxies, EndpointStatus{
			Addr:     ep.Addr(),
			Protocol: ep.Protocol,
			Health:   ep.Health(),
		})
	}
	return s
}
