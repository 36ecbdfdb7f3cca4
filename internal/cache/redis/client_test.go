package redis

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"", "pool:0x1", "pool:0x1"},
		{"binarypool", "pool:0x1", "binarypool:pool:0x1"},
		{"staging", "lock:oracle:response:1-0", "staging:lock:oracle:response:1-0"},
	}
	for _, tt := range tests {
		c := NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), tt.prefix)
		if got := c.Key(tt.name); got != tt.want {
			t.Errorf("Key(%q) with prefix %q = %q, want %q", tt.name, tt.prefix, got, tt.want)
		}
		_ = c.Close()
	}
}

func TestNewPoolCache_DefaultTTL(t *testing.T) {
	c := NewFromClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "bp")
	defer c.Close()

	if pc := NewPoolCache(c, 0); pc.ttl != DefaultPoolTTL {
		t.Errorf("ttl = %v, want %v", pc.ttl, DefaultPoolTTL)
	}
	if pc := NewPoolCache(c, time.Minute); pc.ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", pc.ttl)
	}

	id := common.HexToHash("0x01")
	want := "bp:pool:" + id.Hex()
	if got := NewPoolCache(c, 0).key(id); got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}
