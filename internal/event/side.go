package event

// Side is the direction of a position or fill.
type Side int32

const (
	SideFlat Side = iota
	SideShort
	SideLong
)

func (s Side) String() string {
	switch s {
	case SideFlat:
		return "Flat"
	case SideShort:
		return "Short"
	case SideLong:
		return "Long"
	default:
		return "Unknown"
	}
}

// Counter returns the opposite trading side. Flat has no counter.
func (s Side) Counter() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// ParseSide maps wire text to a Side.
func ParseSide(s string) (Side, bool) {
	switch s {
	case "long", "Long", "LONG", "buy":
		return SideLong, true
	case "short", "Short", "SHORT", "sell":
		return SideShort, true
	case "flat", "Flat", "FLAT":
		return SideFlat, true
	default:
		return SideFlat, false
	}
}
