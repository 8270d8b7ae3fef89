package settle

import "errors"

var (
	// ErrDuplicateTrade means the trade's dedup key was already settled.
	// The second application is a verified no-op; callers on an
	// at-least-once stream treat this as success.
	ErrDuplicateTrade = errors.New("trade already settled")

	// ErrPortfolioNotFound means a counterparty has no portfolio.
	// Fatal for the event: logged and skipped, never retried.
	ErrPortfolioNotFound = errors.New("portfolio not found")

	// ErrReconciliation means settlement discovered an invariant
	// violation (seller holdings cannot cover the trade). The ledger has
	// already committed the trade, so nothing is undone; the error is
	// surfaced for manual review.
	ErrReconciliation = errors.New("reconciliation required")

	// ErrStorageConflict means the optimistic write kept losing races
	// until the retry budget ran out.
	ErrStorageConflict = errors.New("storage conflict after retries")
)
