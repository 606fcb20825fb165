package cloudstore

import (
	"context"

	"github.com/google/uuid"
)

// QuotaLedger computes consumption from the catalog on every call. It has
// no mutation methods.
type QuotaLedger struct {
	repo    Repository
	ceiling int64
}

// NewQuotaLedger creates a ledger over repo with a fixed per-principal ceiling.
func NewQuotaLedger(repo Repository, ceiling int64) *QuotaLedger {
	return &QuotaLedger{repo: repo, ceiling: ceiling}
}

// Ceiling returns the per-principal byte ceiling.
func (q *QuotaLedger) Ceiling() int64 {
	return q.ceiling
}

// Consumed returns the bytes held by the principal's live objects.
func (q *QuotaLedger) Consumed(ctx context.Context, principal uuid.UUID) (int64, error) {
	used, _, err := q.repo.GetUsage(ctx, principal)
	if err != nil {
		return 0, catalogFault("consumed", err)
	}
	return used, nil
}

// WouldExceed reports whether adding n bytes would push the principal over
// the ceiling.
func (q *QuotaLedger) WouldExceed(ctx context.Context, principal uuid.UUID, n int64) (bool, error) {
	return q.wouldExceedIn(ctx, q.repo, principal, n)
}

// Summary returns consumption, ceiling and object count.
func (q *QuotaLedger) Summary(ctx context.Context, principal uuid.UUID) (*UsageSummary, error) {
	used, count, err := q.repo.GetUsage(ctx, principal)
	if err != nil {
		return nil, catalogFault("usage summary", err)
	}
	return &UsageSummary{
		ConsumedBytes: used,
		CeilingBytes:  q.ceiling,
		ObjectCount:   count,
	}, nil
}

// wouldExceedIn evaluates the check against repo, which may be a
// transaction view.
func (q *QuotaLedger) wouldExceedIn(ctx context.Context, repo Repository, principal uuid.UUID, n int64) (bool, error) {
	used, _, err := repo.GetUsage(ctx, principal)
	if err != nil {
		return false, catalogFault("quota check", err)
	}
	return used+n > q.ceiling, nil
}
