package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/binarypool/internal/auth"
	"github.com/alanyoungcy/binarypool/internal/crypto"
	"github.com/alanyoungcy/binarypool/internal/domain"
	"github.com/alanyoungcy/binarypool/internal/engine"
	"github.com/alanyoungcy/binarypool/internal/server/handler"
	"github.com/alanyoungcy/binarypool/internal/server/middleware"
	"github.com/alanyoungcy/binarypool/internal/store/memory"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type nopOracle struct{}

func (nopOracle) Request(context.Context, domain.OracleResolutionRequest) error { return nil }

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

// memLocks is an in-process domain.LockManager. Claims never expire.
type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (l *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {}, nil
}

type env struct {
	t      *testing.T
	srv    *httptest.Server
	locks  *memLocks
	stamp  int64
	engine *engine.Engine
	clock  *fakeClock
	store  *memory.Store
	owner  *crypto.Signer
	alice  *crypto.Signer
	bob    *crypto.Signer
	oracle common.Address
}

func newEnv(t *testing.T, limiter domain.RateLimiter) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := &env{t: t, clock: &fakeClock{now: start}, store: memory.New(), locks: &memLocks{}}
	e.owner, _ = crypto.GenerateSigner()
	e.alice, _ = crypto.GenerateSigner()
	e.bob, _ = crypto.GenerateSigner()
	e.oracle = common.HexToAddress("0x3000000000000000000000000000000000000003")

	opts := engine.DefaultOptions()
	opts.ContractAddress = common.HexToAddress("0x1000000000000000000000000000000000000001")
	opts.ContractOwner = common.HexToAddress("0x2000000000000000000000000000000000000002")
	opts.OracleAddress = e.oracle
	eng, err := engine.New(opts, engine.Deps{Tx: e.store, Oracle: nopOracle{}, Clock: e.clock, Logger: logger})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	e.engine = eng

	e.store.Credit(domain.AssetGAS, e.owner.Address(), 5_0000_0000)
	e.store.Credit(domain.AssetNEO, e.alice.Address(), 1_000)
	e.store.Credit(domain.AssetNEO, e.bob.Address(), 1_000)

	handlers := Handlers{
		Health: handler.NewHealthHandler(nil, logger),
		Pools:  handler.NewPoolHandler(eng, opts.DepositAsset, logger),
	}
	e.srv = httptest.NewServer(NewHandler(Config{RateLimit: 10, RateWindow: time.Second}, handlers, nil, limiter, e.locks, logger))
	t.Cleanup(e.srv.Close)
	return e
}

// timestamp returns a fresh X-Timestamp, strictly increasing so identical
// requests never share one.
func (e *env) timestamp() int64 {
	e.stamp = max(time.Now().UnixMilli(), e.stamp+1)
	return e.stamp
}

// request builds a request, signed by s when s is not nil.
func (e *env) request(s *crypto.Signer, method, path string, body any) *http.Request {
	e.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			e.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		e.t.Fatal(err)
	}
	if s != nil {
		ts := e.timestamp()
		sig, err := s.SignMessage(middleware.SigningMessage(method, path, ts, raw))
		if err != nil {
			e.t.Fatal(err)
		}
		req.Header.Set(middleware.HeaderCaller, s.Address().Hex())
		req.Header.Set(middleware.HeaderSignature, sig)
		req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	}
	return req
}

// send issues req and decodes a JSON response into out when out is not nil.
// The body is buffered so req can be sent again.
func (e *env) send(req *http.Request, out any) int {
	e.t.Helper()
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			e.t.Fatal(err)
		}
		req.Body = body
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("%s %s: decode: %v", req.Method, req.URL.Path, err)
		}
	}
	return resp.StatusCode
}

func (e *env) do(s *crypto.Signer, method, path string, body any, out any) int {
	e.t.Helper()
	return e.send(e.request(s, method, path, body), out)
}

func (e *env) createPool() string {
	e.t.Helper()
	var created struct{ ID string }
	status := e.do(e.owner, http.MethodPost, "/api/pools", map[string]any{
		"asset":       int(domain.AssetNEO),
		"feed_url":    "https://feed.example/neo",
		"feed_filter": "$.price",
		"margin":      100,
		"expiry":      start.Add(2 * time.Hour),
		"threshold":   start.Add(time.Hour),
		"strike":      "100",
		"deposit":     1_0000_0000,
	}, &created)
	if status != http.StatusCreated {
		e.t.Fatalf("create pool status = %d", status)
	}
	return created.ID
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	var body map[string]any
	if status := e.do(nil, http.MethodGet, "/health", nil, &body); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestPoolLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createPool()
	base := "/api/pools/" + id

	if status := e.do(e.alice, http.MethodPost, base+"/bet", map[string]any{"side": 1}, nil); status != http.StatusNoContent {
		t.Fatalf("alice bet status = %d", status)
	}
	if status := e.do(e.bob, http.MethodPost, base+"/bet", map[string]any{"side": 0}, nil); status != http.StatusNoContent {
		t.Fatalf("bob bet status = %d", status)
	}

	var pool struct {
		Status      string
		LongCount   int64 `json:"long_count"`
		TotalMargin struct {
			Units   int64
			Display string
			Asset   string
		} `json:"total_margin"`
		Deposit struct{ Display string }
	}
	if status := e.do(nil, http.MethodGet, base, nil, &pool); status != http.StatusOK {
		t.Fatalf("get pool status = %d", status)
	}
	if pool.Status != "open" || pool.LongCount != 1 || pool.TotalMargin.Units != 200 || pool.TotalMargin.Asset != "NEO" {
		t.Errorf("unexpected pool view: %+v", pool)
	}
	if pool.Deposit.Display != "1" {
		t.Errorf("deposit display = %q, want 1", pool.Deposit.Display)
	}

	var positions struct{ Positions []map[string]any }
	e.do(nil, http.MethodGet, base+"/positions", nil, &positions)
	if len(positions.Positions) != 2 {
		t.Errorf("positions = %d, want 2", len(positions.Positions))
	}

	if status := e.do(e.owner, http.MethodPost, base+"/resolve", nil, nil); status != http.StatusTooEarly {
		t.Errorf("early resolve status = %d, want 425", status)
	}
	e.clock.now = start.Add(2 * time.Hour)
	var resolve struct {
		RequestID string `json:"request_id"`
	}
	if status := e.do(e.owner, http.MethodPost, base+"/resolve", nil, &resolve); status != http.StatusAccepted || resolve.RequestID == "" {
		t.Fatalf("resolve status = %d, body %+v", status, resolve)
	}

	oracleCtx := auth.WithInvocation(context.Background(), auth.Invocation{Caller: e.oracle, Hash: common.HexToHash("0x99")})
	if err := e.engine.OnResolutionDelivered(oracleCtx, common.HexToHash(id), resolve.RequestID, 0, `["120"]`); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var report struct {
		Closed     bool
		Settlement struct {
			Result  string
			Winners int64
			Payoff  struct{ Units int64 }
		}
	}
	if status := e.do(e.owner, http.MethodPost, base+"/settle", nil, &report); status != http.StatusOK {
		t.Fatalf("settle status = %d", status)
	}
	if !report.Closed || report.Settlement.Result != "long" || report.Settlement.Winners != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if got := e.store.Balance(domain.AssetNEO, e.alice.Address()); got != 900+report.Settlement.Payoff.Units {
		t.Errorf("alice balance = %d", got)
	}

	var closed struct{ Pools []map[string]any }
	e.do(nil, http.MethodGet, "/api/pools?status=closed", nil, &closed)
	if len(closed.Pools) != 1 {
		t.Errorf("closed pools = %d, want 1", len(closed.Pools))
	}
}

func TestCancelBetOverHTTP(t *testing.T) {
	e := newEnv(t, nil)
	base := "/api/pools/" + e.createPool()
	e.do(e.alice, http.MethodPost, base+"/bet", map[string]any{"side": 1}, nil)

	var out struct{ Refund int64 }
	if status := e.do(e.alice, http.MethodDelete, base+"/bet", nil, &out); status != http.StatusOK {
		t.Fatalf("cancel bet status = %d", status)
	}
	// 100 x 3 / 1000 rounds down to no penalty.
	if out.Refund != 100 {
		t.Errorf("refund = %d, want 100", out.Refund)
	}
}

func TestErrorStatuses(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createPool()
	unknown := common.HexToHash("0x1234").Hex()

	tests := []struct {
		name   string
		signer *crypto.Signer
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed id", nil, http.MethodGet, "/api/pools/0x12", nil, http.StatusBadRequest},
		{"unknown pool", nil, http.MethodGet, "/api/pools/" + unknown, nil, http.StatusNotFound},
		{"anonymous bet", nil, http.MethodPost, "/api/pools/" + id + "/bet", map[string]any{"side": 1}, http.StatusForbidden},
		{"bet for someone else", e.alice, http.MethodPost, "/api/pools/" + id + "/bet", map[string]any{"side": 1, "player": e.bob.Address().Hex()}, http.StatusForbidden},
		{"missing side", e.alice, http.MethodPost, "/api/pools/" + id + "/bet", map[string]any{}, http.StatusBadRequest},
		{"bad side", e.alice, http.MethodPost, "/api/pools/" + id + "/bet", map[string]any{"side": 2}, http.StatusBadRequest},
		{"non-owner cancel", e.alice, http.MethodPost, "/api/pools/" + id + "/cancel", nil, http.StatusForbidden},
		{"second deposit", e.owner, http.MethodPost, "/api/pools/" + id + "/deposit", map[string]any{"amount": 1_0000_0000}, http.StatusConflict},
		{"settle before resolution", e.owner, http.MethodPost, "/api/pools/" + id + "/settle", nil, http.StatusTooEarly},
		{"unknown field", e.owner, http.MethodPost, "/api/pools", map[string]any{"bogus": 1}, http.StatusBadRequest},
		{"bad status filter", nil, http.MethodGet, "/api/pools?status=done", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.do(tt.signer, tt.method, tt.path, tt.body, nil); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSignatureRejected(t *testing.T) {
	e := newEnv(t, nil)
	id := e.createPool()
	path := "/api/pools/" + id + "/bet"
	body := []byte(`{"side":1}`)

	now := time.Now().UnixMilli()
	otherBody, _ := e.alice.SignMessage(middleware.SigningMessage(http.MethodPost, path, now, []byte(`{"side":0}`)))
	stale := now - (10 * time.Minute).Milliseconds()
	staleSig, _ := e.alice.SignMessage(middleware.SigningMessage(http.MethodPost, path, stale, body))
	fresh, _ := e.alice.SignMessage(middleware.SigningMessage(http.MethodPost, path, now, body))

	tests := []struct {
		name   string
		caller string
		sig    string
		ts     string
	}{
		{"garbage", "", "0xdeadbeef", strconv.FormatInt(now, 10)},
		{"signed other body", e.alice.Address().Hex(), otherBody, strconv.FormatInt(now, 10)},
		{"stale timestamp", e.alice.Address().Hex(), staleSig, strconv.FormatInt(stale, 10)},
		{"missing timestamp", e.alice.Address().Hex(), fresh, ""},
		{"timestamp not signed", e.alice.Address().Hex(), fresh, strconv.FormatInt(now+1, 10)},
		{"wrong caller", e.bob.Address().Hex(), fresh, strconv.FormatInt(now, 10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(body))
			if tt.caller != "" {
				req.Header.Set(middleware.HeaderCaller, tt.caller)
			}
			req.Header.Set(middleware.HeaderSignature, tt.sig)
			if tt.ts != "" {
				req.Header.Set(middleware.HeaderTimestamp, tt.ts)
			}
			if status := e.send(req, nil); status != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", status)
			}
		})
	}
	positions, err := e.engine.Positions(context.Background(), common.HexToHash(id), domain.ListOpts{})
	if err != nil || len(positions) != 0 {
		t.Errorf("positions = %d (%v), rejected requests must not bet", len(positions), err)
	}
}

// highS re-encodes sig with s replaced by N-s and the recovery id flipped;
// it verifies for the same signer.
func highS(t *testing.T, sig string) string {
	t.Helper()
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		t.Fatal(err)
	}
	n := ethcrypto.S256().Params().N
	sv := new(big.Int).SetBytes(b[32:64])
	sv.Sub(n, sv)
	sv.FillBytes(b[32:64])
	b[64] = (b[64]-27)^1 + 27
	return "0x" + hex.EncodeToString(b)
}

func TestSignedRequestReplayRejected(t *testing.T) {
	e := newEnv(t, nil)
	base := "/api/pools/" + e.createPool()

	bet := e.request(e.alice, http.MethodPost, base+"/bet", map[string]any{"side": 1})
	if status := e.send(bet, nil); status != http.StatusNoContent {
		t.Fatalf("bet status = %d", status)
	}
	if status := e.do(e.alice, http.MethodDelete, base+"/bet", nil, nil); status != http.StatusOK {
		t.Fatalf("cancel bet status = %d", status)
	}
	funds := e.store.Balance(domain.AssetNEO, e.alice.Address())

	if status := e.send(bet, nil); status != http.StatusUnauthorized {
		t.Fatalf("replayed bet status = %d, want 401", status)
	}
	if got := e.store.Balance(domain.AssetNEO, e.alice.Address()); got != funds {
		t.Errorf("alice balance = %d, want %d", got, funds)
	}
	var positions struct{ Positions []map[string]any }
	e.do(nil, http.MethodGet, base+"/positions", nil, &positions)
	if len(positions.Positions) != 0 {
		t.Errorf("positions = %d, replay must not re-open the bet", len(positions.Positions))
	}
}

func TestSignatureReencodingIsSameInvocation(t *testing.T) {
	e := newEnv(t, nil)
	before := e.store.Balance(domain.AssetGAS, e.owner.Address())

	body := map[string]any{
		"asset":     int(domain.AssetNEO),
		"feed_url":  "https://feed.example/neo",
		"margin":    100,
		"expiry":    start.Add(2 * time.Hour),
		"threshold": start.Add(time.Hour),
		"strike":    "100",
		"deposit":   1_0000_0000,
	}
	create := e.request(e.owner, http.MethodPost, "/api/pools", body)
	if status := e.send(create, nil); status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}

	sig := create.Header.Get(middleware.HeaderSignature)
	for name, variant := range map[string]string{
		"without prefix": strings.TrimPrefix(sig, "0x"),
		"high s":         highS(t, sig),
	} {
		t.Run(name, func(t *testing.T) {
			create.Header.Set(middleware.HeaderSignature, variant)
			if status := e.send(create, nil); status != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", status)
			}
		})
	}

	if got := before - e.store.Balance(domain.AssetGAS, e.owner.Address()); got != 1_0000_0000 {
		t.Errorf("owner paid %d in deposits, want one deposit", got)
	}
	open, err := e.engine.ListOpen(context.Background(), domain.ListOpts{})
	if err != nil || len(open) != 1 {
		t.Errorf("open pools = %d (%v), want 1", len(open), err)
	}
}

func TestReplayCheckUnavailable(t *testing.T) {
	e := newEnv(t, nil)
	e.locks.err = errors.New("redis down")
	if status := e.do(e.owner, http.MethodPost, "/api/pools", map[string]any{"margin": 100}, nil); status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	if status := e.do(nil, http.MethodGet, "/api/pools", nil, nil); status != http.StatusOK {
		t.Errorf("anonymous read status = %d, want 200", status)
	}
}

func TestRateLimited(t *testing.T) {
	e := newEnv(t, denyLimiter{})
	if status := e.do(nil, http.MethodGet, "/health", nil, nil); status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", status)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, e.srv.URL+"/api/pools", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("allow origin = %q", got)
	}
}
