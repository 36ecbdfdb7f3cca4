// Package auth carries the verified identity of the current invocation.
//
// The transport layer (HTTP signature middleware, oracle stream consumer)
// proves who is calling and stores the result in the request context. The
// engine never inspects headers or signatures itself; it only asks whether
// the invocation is attributable to a given address.
package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Invocation is the verified context of one engine call.
type Invocation struct {
	// Caller is the address the invocation is cryptographically attributed to.
	Caller common.Address
	// Hash uniquely identifies the invocation. Pools created by the
	// invocation take it as their identifier.
	Hash common.Hash
}

type invocationKey struct{}

// WithInvocation returns a copy of ctx carrying inv.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// FromContext returns the invocation stored in ctx, if any.
func FromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}

// IsAuthorized reports whether the invocation in ctx is attributable to addr.
// An anonymous context is never authorized.
func IsAuthorized(ctx context.Context, addr common.Address) bool {
	inv, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return inv.Caller == addr && addr != (common.Address{})
}
