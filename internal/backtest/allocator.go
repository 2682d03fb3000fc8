package backtest

import (
	"fmt"
	"math"

	"github.com/zurychhh/alpha-machine-sub000/internal/db"
)

// AllocationMode selects the capital distribution strategy
type AllocationMode string

const (
	ModeCoreFocus   AllocationMode = "CORE_FOCUS"  // 60% top, 10% x next 3, 10% cash
	ModeBalanced    AllocationMode = "BALANCED"    // 40% top, 12.5% x next 4, 10% cash
	ModeDiversified AllocationMode = "DIVERSIFIED" // 16% x top 5, 20% cash
)

// Position type labels stored on each simulated trade
const (
	positionCore      = "CORE"
	positionSatellite = "SATELLITE"
	positionEqual     = "EQUAL"
)

// Position is one allocated slot for a trading day
type Position struct {
	Signal        db.StoredSignal
	AllocationPct float64
	Dollars       float64
	Shares        int
	PositionType  string
	Rank          int
}

// ParseAllocationMode validates a mode string from config or API input
func ParseAllocationMode(s string) (AllocationMode, error) {
	switch AllocationMode(s) {
	case ModeCoreFocus, ModeBalanced, ModeDiversified:
		return AllocationMode(s), nil
	default:
		return "", fmt.Errorf("unknown allocation mode %q", s)
	}
}

// Allocate distributes capital across ranked signals. Signals past the
// strategy's slot count get nothing; a non-positive entry price yields a
// zero-share position that the simulator skips.
func Allocate(ranked []RankedSignal, capital float64, mode AllocationMode) ([]Position, error) {
	switch mode {
	case ModeCoreFocus:
		return slotAllocate(ranked, capital, []slot{
			{0.60, positionCore},
			{0.10, positionSatellite},
			{0.10, positionSatellite},
			{0.10, positionSatellite},
		}), nil
	case ModeBalanced:
		return slotAllocate(ranked, capital, []slot{
			{0.40, positionCore},
			{0.125, positionSatellite},
			{0.125, positionSatellite},
			{0.125, positionSatellite},
			{0.125, positionSatellite},
		}), nil
	case ModeDiversified:
		return slotAllocate(ranked, capital, []slot{
			{0.16, positionEqual},
			{0.16, positionEqual},
			{0.16, positionEqual},
			{0.16, positionEqual},
			{0.16, positionEqual},
		}), nil
	default:
		return nil, fmt.Errorf("unknown allocation mode %q", mode)
	}
}

type slot struct {
	pct     float64
	posType string
}

func slotAllocate(ranked []RankedSignal, capital float64, slots []slot) []Position {
	n := len(ranked)
	if n > len(slots) {
		n = len(slots)
	}

	positions := make([]Position, 0, n)
	for i := 0; i < n; i++ {
		dollars := capital * slots[i].pct
		entry := ranked[i].Signal.EntryPrice

		shares := 0
		if entry > 0 {
			shares = int(math.Floor(dollars / entry))
		}

		positions = append(positions, Position{
			Signal:        ranked[i].Signal,
			AllocationPct: slots[i].pct,
			Dollars:       dollars,
			Shares:        shares,
			PositionType:  slots[i].posType,
			Rank:          ranked[i].Rank,
		})
	}
	return positions
}
