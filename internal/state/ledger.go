package state

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// Status is the global settlement lifecycle state.
type Status int32

const (
	StatusNormal Status = iota
	StatusSettling
	StatusSettled
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "Normal"
	case StatusSettling:
		return "Settling"
	case StatusSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. The machine is
// monotone; the only self-loop is Settling, which admits a revised
// settlement price.
func (s Status) CanTransitionTo(next Status) bool {
	transitions := map[Status][]Status{
		StatusNormal:   {StatusSettling},
		StatusSettling: {StatusSettling, StatusSettled},
		StatusSettled:  {},
	}
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if next == a {
			return true
		}
	}
	return false
}

// Ledger holds every account plus the global book state. It is owned by
// a single goroutine; no internal locking.
type Ledger struct {
	accounts  map[uuid.UUID]*Account
	directory []uuid.UUID // append-only, creation order

	totalSize       [3]fixmath.Wad // indexed by event.Side
	socialLoss      [3]fixmath.Wad // per-contract accumulator, Long/Short only
	fundingLoss     fixmath.Wad    // per-contract accumulator, both sides
	insuranceFund   fixmath.Wad
	status          Status
	settlementPrice fixmath.Wad
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[uuid.UUID]*Account),
		status:   StatusNormal,
	}
}

// Account returns the record for owner, or nil if never registered.
func (l *Ledger) Account(owner uuid.UUID) *Account {
	return l.accounts[owner]
}

// GetOrCreateAccount registers owner in the directory on first touch.
func (l *Ledger) GetOrCreateAccount(owner uuid.UUID) *Account {
	acct := l.accounts[owner]
	if acct == nil {
		acct = &Account{Owner: owner}
		l.accounts[owner] = acct
		l.directory = append(l.directory, owner)
	}
	return acct
}

// IsRegistered reports whether owner has ever been registered.
func (l *Ledger) IsRegistered(owner uuid.UUID) bool {
	return l.accounts[owner] != nil
}

// TotalAccounts returns the directory length.
func (l *Ledger) TotalAccounts() int {
	return len(l.directory)
}

// AccountAt returns the directory entry at index, in creation order.
func (l *Ledger) AccountAt(index int) (uuid.UUID, bool) {
	if index < 0 || index >= len(l.directory) {
		return uuid.Nil, false
	}
	return l.directory[index], true
}

// Directory returns a copy of the registry in creation order.
func (l *Ledger) Directory() []uuid.UUID {
	out := make([]uuid.UUID, len(l.directory))
	copy(out, l.directory)
	return out
}

func (l *Ledger) TotalSize(side event.Side) fixmath.Wad {
	return l.totalSize[side]
}

// AddTotalSize adjusts one side's open interest by delta.
func (l *Ledger) AddTotalSize(side event.Side, delta fixmath.Wad) {
	l.totalSize[side] = l.totalSize[side].Add(delta)
}

func (l *Ledger) SocialLossPerContract(side event.Side) fixmath.Wad {
	return l.socialLoss[side]
}

// AddSocialLoss grows one side's per-contract social-loss accumulator.
// The accumulator is monotone; callers only ever add.
func (l *Ledger) AddSocialLoss(side event.Side, delta fixmath.Wad) {
	l.socialLoss[side] = l.socialLoss[side].Add(delta)
}

func (l *Ledger) FundingLossPerContract() fixmath.Wad {
	return l.fundingLoss
}

// RatchetFundingLoss raises the funding accumulator to index if it is
// ahead of the stored value. Monotone by construction.
func (l *Ledger) RatchetFundingLoss(index fixmath.Wad) {
	l.fundingLoss = fixmath.Max(l.fundingLoss, index)
}

func (l *Ledger) InsuranceFund() fixmath.Wad {
	return l.insuranceFund
}

func (l *Ledger) AddInsuranceFund(delta fixmath.Wad) {
	l.insuranceFund = l.insuranceFund.Add(delta)
}

func (l *Ledger) Status() Status {
	return l.status
}

func (l *Ledger) SettlementPrice() fixmath.Wad {
	return l.settlementPrice
}

// SetStatus applies a lifecycle transition already validated by the caller.
func (l *Ledger) SetStatus(next Status, settlementPrice fixmath.Wad) {
	l.status = next
	l.settlementPrice = settlementPrice
}

// ==========================================================================
// Checkpoint: pre-image capture for whole-operation atomicity
// ==========================================================================

// Checkpoint is the saved pre-image of the accounts an operation may
// touch plus every global scalar. Restore puts the ledger back exactly;
// capturing is cheap because Wad values are immutable and share their
// backing integers.
type Checkpoint struct {
	ledger    *Ledger
	accounts  map[uuid.UUID]*Account // nil value = did not exist
	dirLen    int
	totalSize [3]fixmath.Wad
	social    [3]fixmath.Wad
	funding   fixmath.Wad
	fund      fixmath.Wad
	status    Status
	price     fixmath.Wad
}

// Capture saves the pre-image of the named accounts and all globals.
func (l *Ledger) Capture(owners ...uuid.UUID) *Checkpoint {
	cp := &Checkpoint{
		ledger:    l,
		accounts:  make(map[uuid.UUID]*Account, len(owners)),
		dirLen:    len(l.directory),
		totalSize: l.totalSize,
		social:    l.socialLoss,
		funding:   l.fundingLoss,
		fund:      l.insuranceFund,
		status:    l.status,
		price:     l.settlementPrice,
	}
	for _, owner := range owners {
		if acct := l.accounts[owner]; acct != nil {
			clone := *acct
			cp.accounts[owner] = &clone
		} else {
			cp.accounts[owner] = nil
		}
	}
	return cp
}

// Restore rewinds the ledger to the captured pre-image.
func (cp *Checkpoint) Restore() {
	l := cp.ledger
	for owner, saved := range cp.accounts {
		if saved == nil {
			delete(l.accounts, owner)
		} else {
			clone := *saved
			l.accounts[owner] = &clone
		}
	}
	l.directory = l.directory[:cp.dirLen]
	l.totalSize = cp.totalSize
	l.socialLoss = cp.social
	l.fundingLoss = cp.funding
	l.insuranceFund = cp.fund
	l.status = cp.status
	l.settlementPrice = cp.price
}

// ==========================================================================
// Snapshot: full-state serialization for persistence and recovery
// ==========================================================================

// AccountSnapshot mirrors Account with stable JSON field names.
type AccountSnapshot struct {
	Owner                uuid.UUID   `json:"owner"`
	CashBalance          fixmath.Wad `json:"cash_balance"`
	AppliedBalance       fixmath.Wad `json:"applied_balance"`
	WithdrawalUnlockTime int64       `json:"withdrawal_unlock_time"`
	Broker               uuid.UUID   `json:"broker"`
	PendingBroker        uuid.UUID   `json:"pending_broker"`
	BrokerUnlockTime     int64       `json:"broker_unlock_time"`
	Side                 int32       `json:"side"`
	Size                 fixmath.Wad `json:"size"`
	EntryValue           fixmath.Wad `json:"entry_value"`
	EntrySocialLoss      fixmath.Wad `json:"entry_social_loss"`
	EntryFundingLoss     fixmath.Wad `json:"entry_funding_loss"`
}

// LedgerSnapshot is the complete persisted ledger state.
type LedgerSnapshot struct {
	Accounts        []AccountSnapshot `json:"accounts"` // directory order
	TotalSizeLong   fixmath.Wad       `json:"total_size_long"`
	TotalSizeShort  fixmath.Wad       `json:"total_size_short"`
	SocialLossLong  fixmath.Wad       `json:"social_loss_long"`
	SocialLossShort fixmath.Wad       `json:"social_loss_short"`
	FundingLoss     fixmath.Wad       `json:"funding_loss"`
	InsuranceFund   fixmath.Wad       `json:"insurance_fund"`
	Status          int32             `json:"status"`
	SettlementPrice fixmath.Wad       `json:"settlement_price"`
}

// Snapshot serializes the full ledger state in directory order.
func (l *Ledger) Snapshot() *LedgerSnapshot {
	snap := &LedgerSnapshot{
		Accounts:        make([]AccountSnapshot, 0, len(l.directory)),
		TotalSizeLong:   l.totalSize[event.SideLong],
		TotalSizeShort:  l.totalSize[event.SideShort],
		SocialLossLong:  l.socialLoss[event.SideLong],
		SocialLossShort: l.socialLoss[event.SideShort],
		FundingLoss:     l.fundingLoss,
		InsuranceFund:   l.insuranceFund,
		Status:          int32(l.status),
		SettlementPrice: l.settlementPrice,
	}
	for _, owner := range l.directory {
		a := l.accounts[owner]
		snap.Accounts = append(snap.Accounts, AccountSnapshot{
			Owner:                a.Owner,
			CashBalance:          a.CashBalance,
			AppliedBalance:       a.AppliedBalance,
			WithdrawalUnlockTime: a.WithdrawalUnlockTime,
			Broker:               a.Broker,
			PendingBroker:        a.PendingBroker,
			BrokerUnlockTime:     a.BrokerUnlockTime,
			Side:                 int32(a.Position.Side),
			Size:                 a.Position.Size,
			EntryValue:           a.Position.EntryValue,
			EntrySocialLoss:      a.Position.EntrySocialLoss,
			EntryFundingLoss:     a.Position.EntryFundingLoss,
		})
	}
	return snap
}

// RestoreSnapshot replaces the ledger state wholesale.
func (l *Ledger) RestoreSnapshot(snap *LedgerSnapshot) {
	l.accounts = make(map[uuid.UUID]*Account, len(snap.Accounts))
	l.directory = make([]uuid.UUID, 0, len(snap.Accounts))
	for _, s := range snap.Accounts {
		l.accounts[s.Owner] = &Account{
			Owner:                s.Owner,
			CashBalance:          s.CashBalance,
			AppliedBalance:       s.AppliedBalance,
			WithdrawalUnlockTime: s.WithdrawalUnlockTime,
			Broker:               s.Broker,
			PendingBroker:        s.PendingBroker,
			BrokerUnlockTime:     s.BrokerUnlockTime,
			Position: Position{
				Side:             event.Side(s.Side),
				Size:             s.Size,
				EntryValue:       s.EntryValue,
				EntrySocialLoss:  s.EntrySocialLoss,
				EntryFundingLoss: s.EntryFundingLoss,
			},
		}
		l.directory = append(l.directory, s.Owner)
	}
	l.totalSize = [3]fixmath.Wad{}
	l.totalSize[event.SideLong] = snap.TotalSizeLong
	l.totalSize[event.SideShort] = snap.TotalSizeShort
	l.socialLoss = [3]fixmath.Wad{}
	l.socialLoss[event.SideLong] = snap.SocialLossLong
	l.socialLoss[event.SideShort] = snap.SocialLossShort
	l.fundingLoss = snap.FundingLoss
	l.insuranceFund = snap.InsuranceFund
	l.status = Status(snap.Status)
	l.settlementPrice = snap.SettlementPrice
}

// CanonicalBytes returns a deterministic serialization of the entire
// ledger, accounts in directory order, for state hashing.
func (l *Ledger) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256+256*len(l.directory))
	for _, owner := range l.directory {
		buf = append(buf, l.accounts[owner].CanonicalBytes()...)
	}
	buf = appendWad(buf, l.totalSize[event.SideLong])
	buf = appendWad(buf, l.totalSize[event.SideShort])
	buf = appendWad(buf, l.socialLoss[event.SideLong])
	buf = appendWad(buf, l.socialLoss[event.SideShort])
	buf = appendWad(buf, l.fundingLoss)
	buf = appendWad(buf, l.insuranceFund)
	buf = append(buf, byte(l.status))
	buf = appendWad(buf, l.settlementPrice)
	return buf
}
