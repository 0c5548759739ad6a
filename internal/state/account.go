package state

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// Position is one account's derivative exposure. Entry baselines are
// stored as absolute totals (accumulator-at-entry times size) and are
// consumed pro rata as slices close, so a position only absorbs
// accumulator growth that happened after it was opened.
type Position struct {
	Side             event.Side
	Size             fixmath.Wad
	EntryValue       fixmath.Wad
	EntrySocialLoss  fixmath.Wad
	EntryFundingLoss fixmath.Wad
}

// IsFlat returns true if the position has no exposure.
func (p *Position) IsFlat() bool {
	return p.Side == event.SideFlat || p.Size.IsZero()
}

// AvgEntryPrice is EntryValue/Size, the implicit cost basis.
func (p *Position) AvgEntryPrice() fixmath.Wad {
	if p.IsFlat() {
		return fixmath.Zero()
	}
	return p.EntryValue.Div(p.Size)
}

// Account is one participant's full ledger record.
type Account struct {
	Owner uuid.UUID

	CashBalance    fixmath.Wad
	AppliedBalance fixmath.Wad
	// WithdrawalUnlockTime is the host-clock instant after which the
	// applied balance is honorable.
	WithdrawalUnlockTime int64

	Broker           uuid.UUID
	PendingBroker    uuid.UUID
	BrokerUnlockTime int64

	Position Position
}

// CurrentBroker resolves the active broker lazily: a pending change wins
// once the clock passes its unlock time, with no confirmation step.
func (a *Account) CurrentBroker(now int64) uuid.UUID {
	if a.PendingBroker != uuid.Nil && now >= a.BrokerUnlockTime {
		return a.PendingBroker
	}
	return a.Broker
}

// CanonicalBytes returns a deterministic serialization for state hashing.
func (a *Account) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	buf = append(buf, a.Owner[:]...)
	buf = appendWad(buf, a.CashBalance)
	buf = appendWad(buf, a.AppliedBalance)
	buf = appendInt64LE(buf, a.WithdrawalUnlockTime)
	buf = append(buf, a.Broker[:]...)
	buf = append(buf, a.PendingBroker[:]...)
	buf = appendInt64LE(buf, a.BrokerUnlockTime)
	buf = append(buf, byte(a.Position.Side))
	buf = appendWad(buf, a.Position.Size)
	buf = appendWad(buf, a.Position.EntryValue)
	buf = appendWad(buf, a.Position.EntrySocialLoss)
	buf = appendWad(buf, a.Position.EntryFundingLoss)

	return buf
}

func appendWad(buf []byte, w fixmath.Wad) []byte {
	s := w.String()
	buf = append(buf, byte(len(s)))
	return append(buf, []byte(s)...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
