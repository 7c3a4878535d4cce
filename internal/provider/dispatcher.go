package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmehdipour/innbot/internal/metrics"
	"golang.org/x/sync/errgroup"
)

type Strategy string

const (
	// Sequential tries providers in priority order and falls back on failure.
	Sequential Strategy = "sequential"
	// Race queries everyone at once; the first acceptable answer wins.
	Race Strategy = "race"
	// Parallel queries everyone and picks the highest-priority acceptable answer.
	Parallel Strategy = "parallel"
)

// ParseStrategy normalizes input; empty => sequential.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Sequential:
		return Sequential, true
	case Race:
		return Race, true
	case Parallel:
		return Parallel, true
	default:
		return Sequential, false
	}
}

// Dispatcher combines providers. Their order is their priority, richest schema first.
type Dispatcher struct {
	providers []Provider
	strategy  Strategy
	accept    func(payload []byte) bool
}

// NewDispatcher builds a dispatcher. accept decides whether a successful payload
// actually describes a company; nil accepts every success.
func NewDispatcher(provs []Provider, strategy Strategy, accept func([]byte) bool) *Dispatcher {
	if accept == nil {
		accept = func([]byte) bool { return true }
	}
	return &Dispatcher{providers: provs, strategy: strategy, accept: accept}
}

func (d *Dispatcher) Strategy() Strategy { return d.strategy }

// Lookup never returns an error; the Result kind carries the failure class.
func (d *Dispatcher) Lookup(ctx context.Context, inn string) Result {
	if len(d.providers) == 0 {
		return NotConfigured("", ErrNoProviders.Error())
	}

	switch d.strategy {
	case Race:
		return d.race(ctx, inn)
	case Parallel:
		return d.parallel(ctx, inn)
	default:
		return d.sequential(ctx, inn)
	}
}

func (d *Dispatcher) lookupOne(ctx context.Context, p Provider, inn string) Result {
	var r Result
	if !p.Ready() {
		r = NetworkError(p.Name(), ErrBreakerOpen)
	} else {
		r = p.Lookup(ctx, inn)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), r.Kind.String()).Inc()
	return r
}

func (d *Dispatcher) sequential(ctx context.Context, inn string) Result {
	results := make([]Result, 0, len(d.providers))
	for _, p := range d.providers {
		r := d.lookupOne(ctx, p, inn)
		if r.OK() && d.accept(r.Payload) {
			return r
		}
		results = append(results, r)
	}
	return d.pick(results)
}

func (d *Dispatcher) race(ctx context.Context, inn string) Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type indexed struct {
		i int
		r Result
	}
	ch := make(chan indexed, len(d.providers))
	for i, p := range d.providers {
		go func(i int, p Provider) {
			ch <- indexed{i: i, r: d.lookupOne(ctx, p, inn)}
		}(i, p)
	}

	results := make([]Result, len(d.providers))
	for range d.providers {
		got := <-ch
		if got.r.OK() && d.accept(got.r.Payload) {
			return got.r
		}
		results[got.i] = got.r
	}
	return d.pick(results)
}

func (d *Dispatcher) parallel(ctx context.Context, inn string) Result {
	results := make([]Result, len(d.providers))

	var g errgroup.Group
	for i, p := range d.providers {
		g.Go(func() error {
			results[i] = d.lookupOne(ctx, p, inn)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.OK() && d.accept(r.Payload) {
			return r
		}
	}
	return d.pick(results)
}

// pick chooses the answer to surface when nobody produced an acceptable payload,
// in priority order: an unrecognized success, then a real failure, then
// not-configured (only when every provider is unconfigured).
func (d *Dispatcher) pick(results []Result) Result {
	for _, r := range results {
		if r.OK() {
			return r
		}
	}
	for _, r := range results {
		if r.Kind == KindUpstreamError || r.Kind == KindNetworkError {
			return r
		}
	}

	reasons := make([]string, 0, len(results))
	for _, r := range results {
		reasons = append(reasons, fmt.Sprintf("%s: %s", r.Provider, r.Reason))
	}
	return NotConfigured("", strings.Join(reasons, "; "))
}
