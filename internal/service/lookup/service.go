package lookup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/innbot/internal/cache"
	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/normalize"
	"github.com/jmehdipour/innbot/internal/provider"
	"github.com/jmehdipour/innbot/internal/quota"
	"github.com/jmehdipour/innbot/internal/render"
	"github.com/jmehdipour/innbot/internal/summary"
	"github.com/jmehdipour/innbot/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotConfigured = errors.New("no lookup provider configured")
	ErrQuotaExceeded = errors.New("daily free quota exceeded")
	ErrUpstream      = errors.New("lookup provider unavailable")
	ErrNotFound      = errors.New("company not found")
)

// Source answers raw lookups; *provider.Dispatcher in production.
type Source interface {
	Lookup(ctx context.Context, inn string) provider.Result
}

// CheckRecorder receives audit rows. Implementations must not block for long.
type CheckRecorder interface {
	Record(row model.CheckLog)
}

// Result is a delivered company report.
type Result struct {
	INN       string
	Record    model.CompanyRecord
	Provider  string
	Cached    bool
	FetchedAt time.Time
	Quota     model.QuotaState
	Summary   string
	Location  *time.Location
}

// View adapts the result for rendering.
func (r Result) View() render.View {
	return render.View{
		INN:       r.INN,
		Record:    r.Record,
		Provider:  r.Provider,
		Cached:    r.Cached,
		FetchedAt: r.FetchedAt,
		Quota:     r.Quota,
		Summary:   r.Summary,
		Location:  r.Location,
	}
}

// Service runs quota -> cache -> provider -> normalize -> log for one check.
type Service struct {
	ledger     *quota.Ledger
	cache      *cache.Cache
	source     Source
	summarizer summary.Summarizer
	checks     CheckRecorder
	log        *zap.Logger

	// FetchTimeout bounds a shared provider fetch, which outlives any single caller.
	FetchTimeout time.Duration

	flights singleflight.Group
	now     func() time.Time
}

func New(
	ledger *quota.Ledger,
	c *cache.Cache,
	source Source,
	summarizer summary.Summarizer,
	checks CheckRecorder,
	log *zap.Logger,
) *Service {
	if summarizer == nil {
		summarizer = summary.Disabled{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		ledger:     ledger,
		cache:      c,
		source:     source,
		summarizer: summarizer,
		checks:     checks,
		log:        log,

		FetchTimeout: 30 * time.Second,

		now: time.Now,
	}
}

// Status reports the user's allowance without consuming it.
func (s *Service) Status(ctx context.Context, u model.User) model.QuotaState {
	return s.ledger.Status(ctx, u)
}

// Limit is the daily free allowance.
func (s *Service) Limit() int { return s.ledger.Limit() }

type fetched struct {
	res       provider.Result
	rec       *model.CompanyRecord
	fetchedAt time.Time
}

// Check validates raw, charges the user and returns the report. Errors are one of
// util.ErrInvalidTaxID, quota.ErrUnavailable, ErrQuotaExceeded, ErrNotFound,
// ErrNotConfigured or ErrUpstream. No unit is consumed unless a report is returned.
func (s *Service) Check(ctx context.Context, u model.User, raw string) (*Result, error) {
	inn, _, err := util.ParseTaxID(raw)
	if err != nil || inn == "" {
		return nil, util.ErrInvalidTaxID
	}

	resv, err := s.ledger.CheckAndReserve(ctx, u)
	if err != nil {
		return nil, err
	}
	if !resv.Allowed {
		s.record(u.ID, inn, "", model.OutcomeQuotaExceeded, "")
		return &Result{INN: inn, Quota: s.stateOf(u, resv)}, ErrQuotaExceeded
	}

	if e := s.cache.Get(ctx, inn); e != nil && e.Record != nil {
		s.capture(ctx, resv)
		out := &Result{
			INN:       inn,
			Record:    *e.Record,
			Provider:  e.Provider,
			Cached:    true,
			FetchedAt: e.FetchedAt,
			Quota:     s.stateOf(u, resv),
			Location:  s.ledger.Location(),
		}
		s.decorate(ctx, out)
		s.record(u.ID, inn, e.Provider, model.OutcomeCached, e.Record.Title())
		return out, nil
	}

	v, _, _ := s.flights.Do(inn, func() (any, error) {
		// joined callers must not fail because the first one gave up
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.FetchTimeout)
		defer cancel()
		return s.fetch(fctx, inn), nil
	})
	f := v.(fetched)

	switch {
	case f.res.OK() && f.rec != nil:
		s.capture(ctx, resv)
		out := &Result{
			INN:       inn,
			Record:    *f.rec,
			Provider:  f.res.Provider,
			FetchedAt: f.fetchedAt,
			Quota:     s.stateOf(u, resv),
			Location:  s.ledger.Location(),
		}
		s.decorate(ctx, out)
		s.record(u.ID, inn, f.res.Provider, model.OutcomeOK, f.rec.Title())
		return out, nil

	case f.res.OK():
		resv = s.release(ctx, resv)
		s.record(u.ID, inn, f.res.Provider, model.OutcomeNotFound, "")
		return &Result{INN: inn, Quota: s.stateOf(u, resv)}, ErrNotFound

	case f.res.Kind == provider.KindNotConfigured:
		resv = s.release(ctx, resv)
		s.log.Warn("lookup without configured providers", zap.String("inn", inn), zap.String("reason", f.res.Reason))
		s.record(u.ID, inn, f.res.Provider, model.OutcomeNotConfigured, "not_configured")
		return &Result{INN: inn, Quota: s.stateOf(u, resv)}, ErrNotConfigured

	default:
		resv = s.release(ctx, resv)
		s.log.Warn("provider lookup failed", zap.String("inn", inn), zap.Stringer("result", f.res))
		s.record(u.ID, inn, f.res.Provider, model.OutcomeUpstreamError, f.res.Kind.String())
		return &Result{INN: inn, Quota: s.stateOf(u, resv)}, fmt.Errorf("%w: %s", ErrUpstream, f.res.Kind)
	}
}

// fetch runs once per tax id across concurrent checks and stores recognized answers.
func (s *Service) fetch(ctx context.Context, inn string) fetched {
	r := s.source.Lookup(ctx, inn)
	f := fetched{res: r, fetchedAt: s.now().UTC()}
	if !r.OK() {
		return f
	}

	f.rec = normalize.Normalize(r.Payload)
	if f.rec != nil {
		s.cache.Put(ctx, model.CacheEntry{
			INN:       inn,
			Provider:  r.Provider,
			Payload:   r.Payload,
			Record:    f.rec,
			FetchedAt: f.fetchedAt,
		})
	}
	return f
}

// Cached returns a fresh stored report without charging; used by exports.
func (s *Service) Cached(ctx context.Context, inn string) (*model.CacheEntry, error) {
	if !util.ValidTaxID(inn) {
		return nil, util.ErrInvalidTaxID
	}
	e := s.cache.Get(ctx, inn)
	if e == nil || e.Record == nil {
		return nil, ErrNotFound
	}
	e.FetchedAt = e.FetchedAt.In(s.ledger.Location())
	return e, nil
}

func (s *Service) decorate(ctx context.Context, out *Result) {
	text, err := s.summarizer.Summarize(ctx, out.Record)
	if err != nil {
		if !errors.Is(err, summary.ErrDisabled) {
			s.log.Warn("summary skipped", zap.String("inn", out.INN), zap.Error(err))
		}
		return
	}
	out.Summary = text
}

func (s *Service) capture(ctx context.Context, r quota.Reservation) {
	_ = s.ledger.Capture(ctx, r)
}

func (s *Service) release(ctx context.Context, r quota.Reservation) quota.Reservation {
	// the check failed; give the unit back even if the caller's context is gone
	rel, _ := s.ledger.Release(context.WithoutCancel(ctx), r)
	return rel
}

func (s *Service) stateOf(u model.User, r quota.Reservation) model.QuotaState {
	st := model.QuotaState{Unlimited: r.Unlimited, Limit: r.Limit, Remaining: r.Remaining}
	if r.Unlimited {
		st.ProUntil = u.ProUntil
	}
	return st
}

func (s *Service) record(userID int64, inn, prov string, outcome model.CheckOutcome, note string) {
	metrics.ChecksTotal.WithLabelValues(outcome.String()).Inc()
	if s.checks == nil {
		return
	}
	s.checks.Record(model.CheckLog{
		ID:        util.NewID(),
		UserID:    userID,
		INN:       inn,
		Provider:  prov,
		Outcome:   outcome,
		Summary:   clip(note, maxNote),
		CreatedAt: s.now().UTC(),
	})
}

// check_log.summary width, in characters
const maxNote = 512

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
