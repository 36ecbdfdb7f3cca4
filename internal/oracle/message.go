// Package oracle carries resolution requests to the external oracle and signed
// responses back to the engine over Redis streams.
package oracle

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/binarypool/internal/crypto"
)

// Request is the wire form of a resolution request on the requests stream.
type Request struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Filter      string    `json:"filter"`
	Callback    string    `json:"callback"`
	PoolID      string    `json:"pool_id"`
	Fee         int64     `json:"fee"`
	RequestedAt time.Time `json:"requested_at"`
}

// Response is the wire form of an oracle answer on the responses stream.
// Signature covers SigningPayload and identifies the oracle.
type Response struct {
	RequestID string `json:"request_id"`
	PoolID    string `json:"pool_id"`
	Code      int    `json:"code"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// SigningPayload is the message the oracle signs.
func (r Response) SigningPayload() []byte {
	return []byte(r.RequestID + "\n" + r.PoolID + "\n" + strconv.Itoa(r.Code) + "\n" + r.Payload)
}

// Sign fills in Signature using s.
func (r *Response) Sign(s *crypto.Signer) error {
	sig, err := s.SignMessage(r.SigningPayload())
	if err != nil {
		return fmt.Errorf("oracle: sign response: %w", err)
	}
	r.Signature = sig
	return nil
}

// Signer recovers the address that signed r.
func (r Response) Signer() (common.Address, error) {
	return crypto.Recover(r.SigningPayload(), r.Signature)
}
