package domain

import (
	"context"
	"time"
)

// OracleResolutionRequest is what the engine hands to the oracle service when
// a pool reaches expiry. PoolID is the correlation data echoed back on
// delivery.
type OracleResolutionRequest struct {
	ID       string
	URL      string
	Filter   string
	Callback string
	PoolID   PoolID
	Fee      int64
}

// OracleService dispatches resolution requests. Request must not wait for the
// response; the result arrives later through the engine's delivery callback.
type OracleService interface {
	Request(ctx context.Context, req OracleResolutionRequest) error
}

// OracleResponseSuccess is the status code the oracle uses for a successful
// fetch. Any other code is a failure.
const OracleResponseSuccess = 0

// Clock supplies the current time for expiry and threshold comparisons.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
