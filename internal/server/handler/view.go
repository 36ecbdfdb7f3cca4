package handler

import (
	"time"

	"github.com/alanyoungcy/binarypool/internal/domain"
	"github.com/alanyoungcy/binarypool/internal/engine"
)

// amountView shows a base-unit amount next to its whole-token rendering.
type amountView struct {
	Units   int64  `json:"units"`
	Display string `json:"display"`
	Asset   string `json:"asset"`
}

func amount(asset domain.Asset, units int64) amountView {
	return amountView{Units: units, Display: asset.Format(units), Asset: asset.String()}
}

type resolutionView struct {
	Value       string    `json:"value"`
	Failed      bool      `json:"failed"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type oracleRequestView struct {
	ID          string    `json:"id"`
	RequestedAt time.Time `json:"requested_at"`
}

type settlementView struct {
	Result              string     `json:"result"`
	Price               string     `json:"price"`
	OwnerCommission     amountView `json:"owner_commission"`
	PoolOwnerCommission amountView `json:"pool_owner_commission"`
	DepositCommission   amountView `json:"deposit_commission"`
	DepositRefund       amountView `json:"deposit_refund"`
	Distributable       amountView `json:"distributable"`
	Winners             int64      `json:"winners"`
	Payoff              amountView `json:"payoff"`
	Paid                int64      `json:"paid"`
	StartedAt           time.Time  `json:"started_at"`
}

type poolView struct {
	ID            string             `json:"id"`
	Owner         string             `json:"owner"`
	Asset         string             `json:"asset"`
	FeedURL       string             `json:"feed_url"`
	FeedFilter    string             `json:"feed_filter"`
	Description   string             `json:"description,omitempty"`
	Margin        amountView         `json:"margin"`
	TotalMargin   amountView         `json:"total_margin"`
	Expiry        time.Time          `json:"expiry"`
	Threshold     time.Time          `json:"threshold"`
	Strike        string             `json:"strike"`
	Deposit       amountView         `json:"deposit"`
	Status        string             `json:"status"`
	LongCount     int64              `json:"long_count"`
	ShortCount    int64              `json:"short_count"`
	Resolution    *resolutionView    `json:"resolution,omitempty"`
	OracleRequest *oracleRequestView `json:"oracle_request,omitempty"`
	Settlement    *settlementView    `json:"settlement,omitempty"`
	Result        string             `json:"result,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	FinalizedAt   *time.Time         `json:"finalized_at,omitempty"`
}

// newPoolView renders p. depositAsset is the asset deposits and their
// commission are taken in.
func newPoolView(p domain.Pool, depositAsset domain.Asset) poolView {
	v := poolView{
		ID:          p.ID.Hex(),
		Owner:       p.Owner.Hex(),
		Asset:       p.Asset.String(),
		FeedURL:     p.FeedURL,
		FeedFilter:  p.FeedFilter,
		Description: p.Description,
		Margin:      amount(p.Asset, p.Margin),
		TotalMargin: amount(p.Asset, p.TotalMargin),
		Expiry:      p.Expiry,
		Threshold:   p.Threshold,
		Strike:      p.Strike,
		Deposit:     amount(depositAsset, p.Deposit),
		Status:      p.Status.String(),
		LongCount:   p.LongCount,
		ShortCount:  p.ShortCount,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		FinalizedAt: p.FinalizedAt,
	}
	if r := p.Resolution; r != nil {
		v.Resolution = &resolutionView{Value: r.Value, Failed: r.Failed(), DeliveredAt: r.DeliveredAt}
	}
	if r := p.OracleRequest; r != nil {
		v.OracleRequest = &oracleRequestView{ID: r.ID, RequestedAt: r.RequestedAt}
	}
	if s := p.Settlement; s != nil {
		sv := newSettlementView(*s, p.Asset, depositAsset)
		v.Settlement = &sv
	}
	if p.Result != nil {
		v.Result = p.Result.String()
	}
	return v
}

func newSettlementView(s domain.Settlement, asset, depositAsset domain.Asset) settlementView {
	return settlementView{
		Result:              s.Result.String(),
		Price:               s.Price,
		OwnerCommission:     amount(asset, s.OwnerCommission),
		PoolOwnerCommission: amount(asset, s.PoolOwnerCommission),
		DepositCommission:   amount(depositAsset, s.DepositCommission),
		DepositRefund:       amount(depositAsset, s.DepositRefund),
		Distributable:       amount(asset, s.Distributable),
		Winners:             s.Winners,
		Payoff:              amount(asset, s.Payoff),
		Paid:                s.Paid,
		StartedAt:           s.StartedAt,
	}
}

type positionView struct {
	Player    string    `json:"player"`
	Side      string    `json:"side"`
	CreatedAt time.Time `json:"created_at"`
}

type settleView struct {
	Settlement settlementView `json:"settlement"`
	PaidNow    int64          `json:"paid_now"`
	Closed     bool           `json:"closed"`
}

func newSettleView(r engine.SettleReport, depositAsset domain.Asset) settleView {
	return settleView{
		Settlement: newSettlementView(r.Settlement, r.Asset, depositAsset),
		PaidNow:    r.PaidNow,
		Closed:     r.Closed,
	}
}
