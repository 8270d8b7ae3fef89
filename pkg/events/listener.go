package events

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/minkyow/trademirror/pkg/core"
	"github.com/minkyow/trademirror/pkg/portfolio"
	"github.com/minkyow/trademirror/pkg/util"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Config holds the ledger subscription parameters
type Config struct {
	WSURL    string         // ledger websocket endpoint (e.g. ws://localhost:8545)
	Contract common.Address // order book contract emitting OrderMatched
	Buffer   int            // trade channel capacity (default 256)
}

// Listener is the long-lived subscription to the external ledger's log
// stream. Decoded trades flow to the settlement processor over a bounded
// channel. On transport failure it reconnects with capped exponential
// backoff and resumes from the last persisted block position, so trades
// emitted during a disconnect are replayed rather than missed.
type Listener struct {
	cfg   Config
	store portfolio.Store // cursor persistence
	out   chan core.MatchedTrade
	log   *zap.SugaredLogger
	clock util.Clock
}

// NewListener creates a listener; Run must be started by the caller
func NewListener(cfg Config, store portfolio.Store, log *zap.SugaredLogger) *Listener {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Listener{
		cfg:   cfg,
		store: store,
		out:   make(chan core.MatchedTrade, cfg.Buffer),
		log:   log,
		clock: util.RealClock{},
	}
}

// Trades returns the channel of decoded trades. Closed when Run returns.
func (l *Listener) Trades() <-chan core.MatchedTrade {
	return l.out
}

// Run subscribes and reconnects until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.out)

	backoff := initialBackoff
	for {
		delivered, err := l.subscribeOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = initialBackoff // healthy session, start over fast
		}

		l.log.Warnw("ledger_subscription_lost", "err", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// subscribeOnce dials the ledger, subscribes to the contract's logs from
// the last persisted position, and pumps decoded trades until the
// subscription dies. Returns whether any log was delivered this session.
func (l *Listener) subscribeOnce(ctx context.Context) (bool, error) {
	client, err := ethclient.DialContext(ctx, l.cfg.WSURL)
	if err != nil {
		return false, err
	}
	defer client.Close()

	query := ethereum.FilterQuery{Addresses: []common.Address{l.cfg.Contract}}
	from, err := l.store.LoadCursor()
	if err != nil {
		l.log.Warnw("ledger_cursor_load_failed", "err", err)
	} else {
		query.FromBlock = resumeFrom(from)
	}

	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return false, err
	}
	defer sub.Unsubscribe()

	l.log.Infow("ledger_subscribed", "contract", l.cfg.Contract.Hex(), "from_block", from)

	delivered := false
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case err := <-sub.Err():
			return delivered, err
		case lg := <-logs:
			delivered = true
			if err := l.handleLog(ctx, lg); err != nil {
				return delivered, err
			}
		}
	}
}

// resumeFrom maps the persisted cursor to the first block to request,
// or nil (subscribe from head) when no cursor has been saved yet.
// The cursor block itself is re-requested: the cursor advances per log,
// so a disconnect mid-block can strand that block's later logs, and a
// trade handed to the channel but not yet settled at a crash must come
// around again. Replays land in the settlement dedup set as no-ops.
func resumeFrom(cursor uint64) *big.Int {
	if cursor == 0 {
		return nil
	}
	return new(big.Int).SetUint64(cursor)
}

// handleLog decodes one raw log and forwards the trade. A malformed
// entry is logged and skipped: stream liveness beats completeness of a
// single bad record. Blocks when the trade channel is full, which
// back-pressures the subscription instead of dropping trades.
func (l *Listener) handleLog(ctx context.Context, lg types.Log) error {
	ev, err := DecodeLog(lg)
	if err != nil {
		if errors.Is(err, ErrDecode) {
			l.log.Warnw("ledger_event_skipped",
				"block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "err", err)
			return nil
		}
		return err
	}

	if ev.Trade.Timestamp == 0 {
		ev.Trade.Timestamp = l.clock.Now().UnixMilli()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.out <- ev.Trade:
	}

	if err := l.store.SaveCursor(lg.BlockNumber); err != nil {
		l.log.Warnw("ledger_cursor_save_failed", "block", lg.BlockNumber, "err", err)
	}
	return nil
}
