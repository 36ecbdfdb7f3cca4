package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PoolID identifies a pool. It is the hash of the invocation that created it.
type PoolID = common.Hash

// Address identifies a participant, a pool owner, or a custody account.
type Address = common.Address

// Asset is the fungible token a pool's margin is denominated in.
type Asset int

const (
	AssetNEO Asset = 0
	AssetGAS Asset = 1
)

// ParseAsset validates a wire selector. Only NEO (0) and GAS (1) are accepted.
func ParseAsset(selector int) (Asset, error) {
	switch Asset(selector) {
	case AssetNEO, AssetGAS:
		return Asset(selector), nil
	default:
		return 0, fmt.Errorf("%w: unsupported asset selector %d", ErrInvalidInput, selector)
	}
}

func (a Asset) String() string {
	switch a {
	case AssetNEO:
		return "NEO"
	case AssetGAS:
		return "GAS"
	default:
		return fmt.Sprintf("asset(%d)", int(a))
	}
}

// Decimals is the number of fractional digits of the asset's base unit.
func (a Asset) Decimals() int32 {
	if a == AssetGAS {
		return 8
	}
	return 0
}

// AssetByName looks up an asset by its ticker, case-insensitively.
func AssetByName(name string) (Asset, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "NEO":
		return AssetNEO, true
	case "GAS":
		return AssetGAS, true
	default:
		return 0, false
	}
}

// Format renders a base-unit amount in whole tokens, e.g. 150000000 GAS as
// "1.5".
func (a Asset) Format(amount int64) string {
	return decimal.New(amount, -a.Decimals()).String()
}

// Side is the outcome a position bets on.
type Side int

const (
	SideShort Side = 0
	SideLong  Side = 1
)

// ParseSide validates a wire bet option.
func ParseSide(option int) (Side, error) {
	switch Side(option) {
	case SideShort, SideLong:
		return Side(option), nil
	default:
		return 0, fmt.Errorf("%w: bet option must be either 1 (long) or 0 (short), got %d", ErrInvalidInput, option)
	}
}

func (s Side) String() string {
	if s == SideLong {
		return "long"
	}
	return "short"
}

// PoolStatus is the lifecycle state of a pool. Canceled and Closed are terminal.
type PoolStatus int

const (
	PoolStatusOpen     PoolStatus = 0
	PoolStatusCanceled PoolStatus = 1
	PoolStatusClosed   PoolStatus = 2
)

func (s PoolStatus) String() string {
	switch s {
	case PoolStatusOpen:
		return "open"
	case PoolStatusCanceled:
		return "canceled"
	case PoolStatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ResolutionError is the sentinel stored in place of a price when the oracle
// reports a failure.
const ResolutionError = "Error"

// Resolution is the raw value delivered by the oracle for a pool.
type Resolution struct {
	Value       string
	DeliveredAt time.Time
}

// Failed reports whether the oracle delivered the error sentinel.
func (r Resolution) Failed() bool {
	return r.Value == ResolutionError
}

// OracleRequest records the last resolution request issued for a pool.
type OracleRequest struct {
	ID          string
	RequestedAt time.Time
}

// Settlement holds the figures computed when settlement starts, plus the
// resume cursor for pools settled across several invocations.
type Settlement struct {
	Result              Side
	Price               string
	OwnerCommission     int64
	PoolOwnerCommission int64
	DepositCommission   int64
	DepositRefund       int64
	Distributable       int64
	Winners             int64
	Payoff              int64
	Paid                int64
	Cursor              *Address
	StartedAt           time.Time
}

// Pool is one prediction-market instance.
type Pool struct {
	ID            PoolID
	Owner         Address
	Asset         Asset
	FeedURL       string
	FeedFilter    string
	Description   string
	Margin        int64
	TotalMargin   int64
	Expiry        time.Time
	Threshold     time.Time
	Strike        string
	Deposit       int64
	Status        PoolStatus
	LongCount     int64
	ShortCount    int64
	Resolution    *Resolution
	OracleRequest *OracleRequest
	Settlement    *Settlement
	Result        *Side
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinalizedAt   *time.Time
}

// Count returns the active position count for one side.
func (p *Pool) Count(side Side) int64 {
	if side == SideLong {
		return p.LongCount
	}
	return p.ShortCount
}

// AddCount adjusts the active position count for one side by delta.
func (p *Pool) AddCount(side Side, delta int64) {
	if side == SideLong {
		p.LongCount += delta
	} else {
		p.ShortCount += delta
	}
}

// Settling reports whether a multi-invocation settlement has started but not
// yet closed the pool.
func (p *Pool) Settling() bool {
	return p.Status == PoolStatusOpen && p.Settlement != nil
}

// MarginBalanced reports whether TotalMargin equals Margin times the number of
// active positions.
func (p *Pool) MarginBalanced() bool {
	return p.TotalMargin == p.Margin*(p.LongCount+p.ShortCount)
}

// Position is a participant's active bet in a pool. Its existence is the
// "has an active bet" flag.
type Position struct {
	PoolID    PoolID
	Player    Address
	Side      Side
	CreatedAt time.Time
}

// Clone returns a deep copy of p so callers may mutate it without touching
// the stored record.
func (p Pool) Clone() Pool {
	out := p
	if p.Resolution != nil {
		r := *p.Resolution
		out.Resolution = &r
	}
	if p.OracleRequest != nil {
		r := *p.OracleRequest
		out.OracleRequest = &r
	}
	if p.Settlement != nil {
		s := *p.Settlement
		if p.Settlement.Cursor != nil {
			c := *p.Settlement.Cursor
			s.Cursor = &c
		}
		out.Settlement = &s
	}
	if p.Result != nil {
		r := *p.Result
		out.Result = &r
	}
	if p.FinalizedAt != nil {
		t := *p.FinalizedAt
		out.FinalizedAt = &t
	}
	return out
}
