package power

import "fmt"

// SourceKind identifies the query shape of an external power source. There is
// no stored "invalid" variant: absence of a registry entry signals
// non-membership.
type SourceKind uint8

const (
	// CheckpointedToken exposes balance-at / total-supply-at selectors.
	CheckpointedToken SourceKind = iota + 1
	// StakingHistory exposes staked-for-at / total-staked-at selectors.
	StakingHistory
)

func (k SourceKind) String() string {
	switch k {
	case CheckpointedToken:
		return "checkpointed-token"
	case StakingHistory:
		return "staking-history"
	default:
		return fmt.Sprintf("source-kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a recognized kind.
func (k SourceKind) Valid() bool {
	return k == CheckpointedToken || k == StakingHistory
}

// ParseSourceKind maps the wire representation back to a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch s {
	case "checkpointed-token":
		return CheckpointedToken, nil
	case "staking-history":
		return StakingHistory, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSourceKind, s)
	}
}

// CallKind selects which aggregate an engine query computes.
type CallKind uint8

const (
	// BalanceOf aggregates one owner's weighted power.
	BalanceOf CallKind = iota + 1
	// TotalSupply aggregates the weighted total across all owners.
	TotalSupply
)

func (c CallKind) String() string {
	switch c {
	case BalanceOf:
		return "balance-of"
	case TotalSupply:
		return "total-supply"
	default:
		return fmt.Sprintf("call-kind(%d)", uint8(c))
	}
}
