package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/binarypool/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "binarypool", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/binarypool?sslmode=disable",
		},
		{
			name: "custom port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppendListOpts(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := appendListOpts(
		"SELECT id FROM pools WHERE status = $1", []any{int16(0)},
		"updated_at", "created_at DESC", domain.ListOpts{Since: &since, Limit: 10, Offset: 20},
	)

	wantQuery := "SELECT id FROM pools WHERE status = $1 AND updated_at >= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4"
	if query != wantQuery {
		t.Errorf("query =\n%s\nwant\n%s", query, wantQuery)
	}
	wantArgs := []any{int16(0), since, 10, 20}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Errorf("args = %v, want %v", args, wantArgs)
	}
}
