package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/core"
	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/observability"
)

// Service answers read-only queries. Live state is read through the
// processor goroutine (the engine is single-writer); historical
// per-account operations come from the op history projection in
// Postgres.
type Service struct {
	proc    *core.Processor
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(proc *core.Processor, db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{proc: proc, db: db, metrics: metrics}
}

func (s *Service) observe(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// GetMarginView evaluates the margin engine for one account at the
// current mark price.
func (s *Service) GetMarginView(ctx context.Context, owner uuid.UUID) (core.MarginView, int64, error) {
	defer s.observe("margin_view", time.Now())

	var (
		view core.MarginView
		seq  int64
		err  error
	)
	inspectErr := s.proc.Inspect(ctx, func(e *core.Engine) {
		view, err = e.MarginViewOf(owner)
		seq = s.proc.Sequence()
	})
	if inspectErr != nil {
		return core.MarginView{}, 0, inspectErr
	}
	return view, seq, err
}

// GetAccount returns the raw ledger record for one account.
func (s *Service) GetAccount(ctx context.Context, owner uuid.UUID) (*AccountResponse, error) {
	defer s.observe("account", time.Now())

	var (
		resp *AccountResponse
		err  error
	)
	inspectErr := s.proc.Inspect(ctx, func(e *core.Engine) {
		acct, acctErr := e.Account(owner)
		if acctErr != nil {
			err = acctErr
			return
		}
		resp = &AccountResponse{
			Owner:                acct.Owner,
			CashBalance:          acct.CashBalance,
			AppliedBalance:       acct.AppliedBalance,
			WithdrawalUnlockTime: acct.WithdrawalUnlockTime,
			Broker:               acct.Broker,
			PendingBroker:        acct.PendingBroker,
			BrokerUnlockTime:     acct.BrokerUnlockTime,
			Side:                 acct.Position.Side.String(),
			Size:                 acct.Position.Size,
			EntryValue:           acct.Position.EntryValue,
			EntrySocialLoss:      acct.Position.EntrySocialLoss,
			EntryFundingLoss:     acct.Position.EntryFundingLoss,
			AsOfSequence:         s.proc.Sequence(),
		}
	})
	if inspectErr != nil {
		return nil, inspectErr
	}
	return resp, err
}

// GetBook returns the global book state.
func (s *Service) GetBook(ctx context.Context) (*BookResponse, error) {
	defer s.observe("book", time.Now())

	var resp *BookResponse
	inspectErr := s.proc.Inspect(ctx, func(e *core.Engine) {
		hash := s.proc.StateHash()
		resp = &BookResponse{
			Status:                     e.Status().String(),
			MarkPrice:                  e.MarkPrice(),
			SettlementPrice:            e.SettlementPrice(),
			TotalSizeLong:              e.TotalSize(event.SideLong),
			TotalSizeShort:             e.TotalSize(event.SideShort),
			SocialLossPerContractLong:  e.SocialLossPerContract(event.SideLong),
			SocialLossPerContractShort: e.SocialLossPerContract(event.SideShort),
			FundingLossPerContract:     e.FundingLossPerContract(),
			InsuranceFund:              e.InsuranceFundBalance(),
			TotalAccounts:              e.TotalAccounts(),
			AsOfSequence:               s.proc.Sequence(),
			StateHash:                  hex.EncodeToString(hash[:]),
		}
	})
	if inspectErr != nil {
		return nil, inspectErr
	}
	return resp, nil
}

// GetParams returns the current governance values.
func (s *Service) GetParams(ctx context.Context) (*ParamsResponse, error) {
	defer s.observe("params", time.Now())

	var resp *ParamsResponse
	inspectErr := s.proc.Inspect(ctx, func(e *core.Engine) {
		p := e.Params().Current()
		resp = &ParamsResponse{
			InitialMarginRate:      p.InitialMarginRate,
			MaintenanceMarginRate:  p.MaintenanceMarginRate,
			LiquidationPenaltyRate: p.LiquidationPenaltyRate,
			PenaltyFundRate:        p.PenaltyFundRate,
			TakerDevFeeRate:        p.TakerDevFeeRate,
			MakerDevFeeRate:        p.MakerDevFeeRate,
			LotSize:                p.LotSize,
			TradingLotSize:         p.TradingLotSize,
			WithdrawalLockPeriod:   p.WithdrawalLockPeriod,
			BrokerLockPeriod:       p.BrokerLockPeriod,
			DevAccount:             p.DevAccount,
			AsOfSequence:           s.proc.Sequence(),
		}
	})
	if inspectErr != nil {
		return nil, inspectErr
	}
	return resp, nil
}

// ListAccounts pages through the account directory in registration
// order.
func (s *Service) ListAccounts(ctx context.Context, offset, limit int) (*AccountPage, error) {
	defer s.observe("accounts", time.Now())

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var page *AccountPage
	inspectErr := s.proc.Inspect(ctx, func(e *core.Engine) {
		total := e.TotalAccounts()
		owners := make([]uuid.UUID, 0, limit)
		for i := offset; i < total && len(owners) < limit; i++ {
			owner, ok := e.AccountAt(i)
			if !ok {
				break
			}
			owners = append(owners, owner)
		}
		page = &AccountPage{
			Owners:       owners,
			Offset:       offset,
			Total:        total,
			AsOfSequence: s.proc.Sequence(),
		}
	})
	if inspectErr != nil {
		return nil, inspectErr
	}
	return page, nil
}

// GetHistory returns recent applied operations touching owner, newest
// first, from the op history projection.
func (s *Service) GetHistory(ctx context.Context, owner uuid.UUID, limit int) ([]HistoryEntry, error) {
	defer s.observe("history", time.Now())

	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, command_type, payload, timestamp
		FROM ledger.op_history
		WHERE owner = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Sequence, &e.CommandType, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
