package auth

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestIsAuthorized(t *testing.T) {
	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	ctx := WithInvocation(context.Background(), Invocation{Caller: alice})

	if !IsAuthorized(ctx, alice) {
		t.Fatal("expected alice to be authorized")
	}
	if IsAuthorized(ctx, bob) {
		t.Fatal("expected bob to be rejected")
	}
	if IsAuthorized(context.Background(), alice) {
		t.Fatal("expected anonymous context to be rejected")
	}
}

func TestIsAuthorized_ZeroAddress(t *testing.T) {
	ctx := WithInvocation(context.Background(), Invocation{})
	if IsAuthorized(ctx, common.Address{}) {
		t.Fatal("zero address must never be authorized")
	}
}

func TestFromContext(t *testing.T) {
	hash := common.HexToHash("0x01")
	ctx := WithInvocation(context.Background(), Invocation{Hash: hash})

	inv, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected invocation in context")
	}
	if inv.Hash != hash {
		t.Fatalf("hash = %s, want %s", inv.Hash, hash)
	}
}
