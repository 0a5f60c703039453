package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeExchange serves /time and /agent/inviteUserList from a fixed set
// of pages, verifying the API key header and request signature.
type fakeExchange struct {
	t      *testing.T
	secret string
	apiKey string
	pages  [][]map[string]any
	total  int

	requests int
	timeDown bool
	garbage  bool
}

func (f *fakeExchange) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/time", func(w http.ResponseWriter, r *http.Request) {
		if f.timeDown {
			http.Error(w, "down", http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]int64{"serverTime": 1700000000000})
	})
	mux.HandleFunc("/agent/inviteUserList", func(w http.ResponseWriter, r *http.Request) {
		f.requests++

		if got := r.Header.Get("X-API-KEY"); got != f.apiKey {
			f.t.Errorf("bad api key header: %q", got)
		}

		q := r.URL.Query()
		canonical := fmt.Sprintf("pageIndex=%s&pageSize=%s&timestamp=%s",
			q.Get("pageIndex"), q.Get("pageSize"), q.Get("timestamp"))
		c := &Client{secret: []byte(f.secret)}
		if want := c.Sign(canonical); q.Get("signature") != want {
			f.t.Errorf("bad signature: got %q want %q", q.Get("signature"), want)
		}

		if f.garbage {
			w.Write([]byte("not json"))
			return
		}

		page := 0
		fmt.Sscanf(q.Get("pageIndex"), "%d", &page)
		var list []map[string]any
		if page >= 1 && page <= len(f.pages) {
			list = f.pages[page-1]
		}
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"list": list, "total": f.total},
		})
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeExchange) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:   srv.URL,
		APIKey:    fake.apiKey,
		SecretKey: fake.secret,
		PageSize:  2,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	c.sleep = func(time.Duration) {} // no inter-page delay in tests
	return c
}

func record(id string, balance float64) map[string]any {
	return map[string]any{
		"uid":           id,
		"balanceVolume": balance,
		"registerTime":  float64(1700000000000),
		"kycLevel":      "1",
	}
}

func knownSet(ids ...string) KnownFunc {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(_ context.Context, id string) (bool, error) {
		return set[id], nil
	}
}

func TestSign_CanonicalForm(t *testing.T) {
	c := &Client{secret: []byte("secret")}
	// Known-answer: HMAC-SHA256("secret", "a=1&b=2") hex.
	got := c.Sign("a=1&b=2")
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
	if got != c.Sign("a=1&b=2") {
		t.Fatal("signature must be deterministic")
	}
	if got == c.Sign("a=1&b=3") {
		t.Fatal("different input must sign differently")
	}
}

func TestCanonicalQuery_Sorted(t *testing.T) {
	q := canonicalQuery(map[string]string{
		"timestamp": "3", "pageIndex": "1", "pageSize": "2",
	})
	if q != "pageIndex=1&pageSize=2&timestamp=3" {
		t.Fatalf("got %q", q)
	}
}

func TestFetch_StopsOnEmptyPage(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key",
		pages: [][]map[string]any{
			{record("A00001", 1), record("A00002", 2)},
			{record("A00003", 3)},
		},
	}
	c := newTestClient(t, fake)

	accounts, err := c.FetchAccounts(context.Background(), TerminationPolicy{RefreshKnown: true}, knownSet())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	// Pages 1, 2 and the empty page 3.
	if fake.requests != 3 {
		t.Fatalf("expected 3 page requests, got %d", fake.requests)
	}
	if accounts[0].RegisterTimeDisplay == "" {
		t.Fatal("derived display timestamp missing")
	}
	if accounts[0].Attrs["kycLevel"] != "1" {
		t.Fatalf("pass-through attrs missing: %v", accounts[0].Attrs)
	}
}

func TestFetch_ConsecutiveKnown_ExactlyAtLimit(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key",
		pages: [][]map[string]any{
			{record("K00001", 1), record("K00002", 2)},
			{record("N00001", 3), record("N00002", 4)},
		},
	}
	c := newTestClient(t, fake)

	// Limit 2: the two known records on page 1 hit it; page 2 never fetched.
	policy := TerminationPolicy{ConsecutiveKnownLimit: 2, RefreshKnown: false}
	accounts, err := c.FetchAccounts(context.Background(), policy, knownSet("K00001", "K00002"))
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 0 {
		t.Fatalf("drop policy must exclude known records, got %d", len(accounts))
	}
	if fake.requests != 1 {
		t.Fatalf("expected pagination to stop after page 1, got %d requests", fake.requests)
	}
}

func TestFetch_ConsecutiveKnown_OneBelowLimit(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key",
		pages: [][]map[string]any{
			{record("K00001", 1), record("N00001", 2)},
			{record("N00002", 3)},
		},
	}
	c := newTestClient(t, fake)

	// Limit 2, only one known record in a row: must continue.
	policy := TerminationPolicy{ConsecutiveKnownLimit: 2, RefreshKnown: false}
	accounts, err := c.FetchAccounts(context.Background(), policy, knownSet("K00001"))
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected the 2 new accounts, got %d", len(accounts))
	}
	if fake.requests < 3 {
		t.Fatalf("expected all pages fetched, got %d requests", fake.requests)
	}
}

func TestFetch_KnownCounterResetsOnNewRecord(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key",
		pages: [][]map[string]any{
			{record("K00001", 1), record("N00001", 2)},
			{record("K00002", 3), record("N00002", 4)},
		},
	}
	c := newTestClient(t, fake)

	policy := TerminationPolicy{ConsecutiveKnownLimit: 2, RefreshKnown: true}
	accounts, err := c.FetchAccounts(context.Background(), policy, knownSet("K00001", "K00002"))
	if err != nil {
		t.Fatal(err)
	}
	// Interleaved known records never reach 2 in a row.
	if len(accounts) != 4 {
		t.Fatalf("expected all 4 records under refresh policy, got %d", len(accounts))
	}
}

func TestFetch_SentinelStops(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key",
		pages: [][]map[string]any{
			{record("A00001", 1), record("SENTIN", 2)},
			{record("A00002", 3)},
		},
	}
	c := newTestClient(t, fake)

	policy := TerminationPolicy{SentinelAccountID: "SENTIN", RefreshKnown: true}
	accounts, err := c.FetchAccounts(context.Background(), policy, knownSet())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Fatalf("expected records up to and including sentinel, got %d", len(accounts))
	}
	if fake.requests != 1 {
		t.Fatalf("expected stop on sentinel page, got %d requests", fake.requests)
	}
}

func TestFetch_ReportedTotalStops(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key",
		pages: [][]map[string]any{
			{record("A00001", 1), record("A00002", 2)},
			{record("A00003", 3), record("A00004", 4)},
		},
		total: 4,
	}
	c := newTestClient(t, fake)

	policy := TerminationPolicy{UseReportedTotal: true, RefreshKnown: true}
	accounts, err := c.FetchAccounts(context.Background(), policy, knownSet())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 4 {
		t.Fatalf("expected 4 accounts, got %d", len(accounts))
	}
	// Total reached after page 2; the empty page 3 is never requested.
	if fake.requests != 2 {
		t.Fatalf("expected 2 page requests, got %d", fake.requests)
	}
}

func TestFetch_DecodeFailureAborts(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key", garbage: true}
	c := newTestClient(t, fake)

	_, err := c.FetchAccounts(context.Background(), TerminationPolicy{}, knownSet())
	if err == nil {
		t.Fatal("decode failure must abort the fetch")
	}
}

func TestServerTime_FallsBackToLocalClock(t *testing.T) {
	fake := &fakeExchange{t: t, secret: "s3cret", apiKey: "key", timeDown: true,
		pages: [][]map[string]any{{record("A00001", 1)}},
	}
	c := newTestClient(t, fake)
	fixed := time.UnixMilli(1699999999999)
	c.now = func() time.Time { return fixed }

	if got := c.ServerTime(context.Background()); got != fixed.UnixMilli() {
		t.Fatalf("expected local fallback %d, got %d", fixed.UnixMilli(), got)
	}

	// Pagination proceeds on the fallback clock.
	accounts, err := c.FetchAccounts(context.Background(), TerminationPolicy{RefreshKnown: true}, knownSet())
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
}

func TestParseAccount_IDFallbackAndCoercion(t *testing.T) {
	acc := parseAccount(map[string]any{
		"id":            float64(983265275),
		"balanceVolume": "12.5",
	})
	if acc.AccountID != "983265275" {
		t.Fatalf("numeric id not coerced: %q", acc.AccountID)
	}
	if acc.Balance != 12.5 {
		t.Fatalf("string balance not coerced: %v", acc.Balance)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{BaseURL: "https://x", APIKey: "", SecretKey: "s", Logger: testLogger()})
	if err == nil {
		t.Fatal("missing api key must fail construction")
	}
}
