package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerline-erp/ledgerline/internal/observability"
	"github.com/ledgerline-erp/ledgerline/internal/platform/db"
)

const (
	issueAttempts = 3
	issueBackoff  = 50 * time.Millisecond
)

// RepositoryPort defines the store operations the service needs.
type RepositoryPort interface {
	Increment(ctx context.Context, kind string, period int, prefix string) (int64, error)
	Last(ctx context.Context, kind string, period int) (int64, error)
}

// Gap describes an observed jump in a sequence: the issued value skipped past
// the previously observed one, meaning a writer incremented without a
// surviving document. Informational only.
type Gap struct {
	Kind     string
	Period   int
	Previous int64
	Issued   int64
}

// GapReporter receives gap observations. Reporting must never block or fail
// issuance.
type GapReporter func(ctx context.Context, gap Gap)

// Service issues unique, monotonically increasing document numbers.
type Service struct {
	repo    RepositoryPort
	metrics *observability.Metrics
	onGap   GapReporter
	clock   func() time.Time

	mu       sync.Mutex
	lastSeen map[string]int64
}

// NewService constructs a sequencer service.
func NewService(repo RepositoryPort, metrics *observability.Metrics, onGap GapReporter) *Service {
	return &Service{
		repo:     repo,
		metrics:  metrics,
		onGap:    onGap,
		clock:    time.Now,
		lastSeen: make(map[string]int64),
	}
}

// Issue atomically allocates the next number for (kind, period). Transient
// store conflicts are retried a bounded number of times before surfacing as
// ErrContention; the operation never hands the same value to two callers.
func (s *Service) Issue(ctx context.Context, kind string, period int) (IssuedNumber, error) {
	cfg, err := KindConfig(kind)
	if err != nil {
		return IssuedNumber{}, err
	}
	period = s.normalizePeriod(cfg, period)

	var lastErr error
	for attempt := 1; attempt <= issueAttempts; attempt++ {
		value, err := s.repo.Increment(ctx, kind, period, cfg.Prefix)
		if err == nil {
			s.observe(ctx, kind, period, value)
			return IssuedNumber{
				Kind:      kind,
				Prefix:    cfg.Prefix,
				Period:    period,
				Value:     value,
				Formatted: Format(cfg, period, value),
			}, nil
		}
		if !db.IsRetryable(err) {
			return IssuedNumber{}, fmt.Errorf("sequence: issue %s: %w", kind, err)
		}
		lastErr = err
		s.metrics.ObserveSequenceRetry()
		select {
		case <-ctx.Done():
			return IssuedNumber{}, ctx.Err()
		case <-time.After(issueBackoff * time.Duration(attempt)):
		}
	}
	return IssuedNumber{}, fmt.Errorf("%w: %v", ErrContention, lastErr)
}

// IssueTx allocates the next number inside the caller's transaction so the
// number and the document it belongs to commit or roll back together. No
// internal retry: a conflict fails the enclosing transaction, whose owner
// decides whether to rerun the whole unit.
func (s *Service) IssueTx(ctx context.Context, q DBTX, kind string, period int) (IssuedNumber, error) {
	cfg, err := KindConfig(kind)
	if err != nil {
		return IssuedNumber{}, err
	}
	period = s.normalizePeriod(cfg, period)

	value, err := Increment(ctx, q, kind, period, cfg.Prefix)
	if err != nil {
		return IssuedNumber{}, fmt.Errorf("sequence: issue %s: %w", kind, err)
	}
	s.observe(ctx, kind, period, value)
	return IssuedNumber{
		Kind:      kind,
		Prefix:    cfg.Prefix,
		Period:    period,
		Value:     value,
		Formatted: Format(cfg, period, value),
	}, nil
}

// Peek previews the next number without mutating any state. Display only:
// a concurrent writer may claim the previewed value before the caller does.
func (s *Service) Peek(ctx context.Context, kind string, period int) (string, error) {
	cfg, err := KindConfig(kind)
	if err != nil {
		return "", err
	}
	period = s.normalizePeriod(cfg, period)

	last, err := s.repo.Last(ctx, kind, period)
	if err != nil {
		return "", fmt.Errorf("sequence: peek %s: %w", kind, err)
	}
	return Format(cfg, period, last+1), nil
}

// IssueEntity allocates a B2B entity number (client, lead, project, payment)
// for the current period under the same atomicity contract.
func (s *Service) IssueEntity(ctx context.Context, kind string) (IssuedNumber, error) {
	return s.Issue(ctx, kind, 0)
}

func (s *Service) normalizePeriod(cfg Kind, period int) int {
	if cfg.Continuous {
		return 0
	}
	if period <= 0 {
		return s.clock().UTC().Year()
	}
	return period
}

// observe tracks the last value seen per (kind, period) and reports gaps.
// In-process only: it catches writers that burned numbers since this service
// last issued, not every historical gap.
func (s *Service) observe(ctx context.Context, kind string, period int, value int64) {
	key := fmt.Sprintf("%s:%d", kind, period)
	s.mu.Lock()
	previous := s.lastSeen[key]
	if value > s.lastSeen[key] {
		s.lastSeen[key] = value
	}
	s.mu.Unlock()

	if previous > 0 && value > previous+1 && s.onGap != nil {
		s.onGap(ctx, Gap{Kind: kind, Period: period, Previous: previous, Issued: value})
	}
}
