package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"onboardbot/internal/domain"
)

const (
	timePath   = "/time"
	listPath   = "/agent/inviteUserList"
	apiKeyHdr  = "X-API-KEY"
	timeFormat = "2006-01-02 15:04:05"
)

// Client fetches the exchange's invited-user list page by page, signing
// every request with the shared secret.
type Client struct {
	baseURL string
	apiKey  string
	secret  []byte

	http      *http.Client
	logger    *slog.Logger
	pageSize  int
	pageDelay time.Duration

	// sleep and now are injectable for tests.
	sleep func(time.Duration)
	now   func() time.Time
}

type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	PageSize  int
	PageDelay time.Duration
	Timeout   time.Duration
	Logger    *slog.Logger
}

// New builds a client. Missing credentials are a startup failure, not
// something to discover mid-cycle.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("exchange: baseUrl, apiKey and secretKey are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 300 * time.Millisecond
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		secret:    []byte(cfg.SecretKey),
		http:      newHTTPClient(cfg.Timeout),
		logger:    cfg.Logger,
		pageSize:  cfg.PageSize,
		pageDelay: cfg.PageDelay,
		sleep:     time.Sleep,
		now:       time.Now,
	}, nil
}

// TerminationPolicy controls when pagination stops short of exhausting
// the remote list. Zero values disable the corresponding rule; an empty
// result list always terminates.
type TerminationPolicy struct {
	// ConsecutiveKnownLimit stops after this many already-known records
	// in a row (the counter carries across page boundaries).
	ConsecutiveKnownLimit int
	// SentinelAccountID stops once this account ID has been observed.
	SentinelAccountID string
	// UseReportedTotal stops once the provider-reported total has been
	// fetched.
	UseReportedTotal bool
	// RefreshKnown re-includes already-known records in the result so
	// their balances get refreshed; when false they are dropped.
	RefreshKnown bool
}

// KnownFunc reports whether an account ID is already stored.
type KnownFunc func(ctx context.Context, accountID string) (bool, error)

// Sign computes the hex HMAC-SHA256 of the canonical query string.
func (c *Client) Sign(query string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery renders params as "k=v&k=v" sorted lexicographically by
// key, the form the signature is computed over.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

// ServerTime returns the exchange's clock in epoch millis, falling back
// to the local clock so pagination can proceed when the time endpoint is
// down.
func (c *Client) ServerTime(ctx context.Context) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+timePath, nil)
	if err != nil {
		return c.now().UnixMilli()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("server time unavailable, using local clock", "err", err)
		return c.now().UnixMilli()
	}
	defer resp.Body.Close()

	var body struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ServerTime <= 0 {
		c.logger.Warn("server time unreadable, using local clock", "err", err)
		return c.now().UnixMilli()
	}
	return body.ServerTime
}

type listResponse struct {
	Code int `json:"code"`
	Data struct {
		List  []map[string]any `json:"list"`
		Total int              `json:"total"`
	} `json:"data"`
}

// FetchAccounts walks the paginated list until a termination rule fires.
// Any page fetch or decode failure aborts the whole fetch; pages are
// never skipped silently.
func (c *Client) FetchAccounts(ctx context.Context, policy TerminationPolicy, known KnownFunc) ([]domain.ExternalAccount, error) {
	var out []domain.ExternalAccount
	pageIndex := 1
	consecutiveKnown := 0
	fetched := 0

	for {
		page, err := c.fetchPage(ctx, pageIndex)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageIndex, err)
		}

		c.logger.Info("page fetched",
			"page", pageIndex, "items", len(page.Data.List),
			"code", page.Code, "total", page.Data.Total)

		if len(page.Data.List) == 0 {
			break
		}

		stop := false
		for _, item := range page.Data.List {
			acc := parseAccount(item)

			if acc.AccountID == "" {
				// Records without an ID are retained as-is.
				out = append(out, acc)
				continue
			}

			isKnown, err := known(ctx, acc.AccountID)
			if err != nil {
				return nil, fmt.Errorf("known lookup %s: %w", acc.AccountID, err)
			}
			if isKnown {
				consecutiveKnown++
				if policy.RefreshKnown {
					out = append(out, acc)
				}
			} else {
				consecutiveKnown = 0
				out = append(out, acc)
			}

			if policy.SentinelAccountID != "" && acc.AccountID == policy.SentinelAccountID {
				c.logger.Info("sentinel account observed, stopping",
					"account_id", acc.AccountID, "page", pageIndex)
				stop = true
				break
			}
			if policy.ConsecutiveKnownLimit > 0 && consecutiveKnown >= policy.ConsecutiveKnownLimit {
				c.logger.Info("consecutive known limit reached, stopping",
					"limit", policy.ConsecutiveKnownLimit, "page", pageIndex)
				stop = true
				break
			}
		}
		fetched += len(page.Data.List)

		if stop {
			break
		}
		if policy.UseReportedTotal && page.Data.Total > 0 && fetched >= page.Data.Total {
			c.logger.Info("reported total reached, stopping",
				"fetched", fetched, "total", page.Data.Total)
			break
		}

		pageIndex++
		c.sleep(c.pageDelay)
	}

	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, pageIndex int) (*listResponse, error) {
	timestamp := c.ServerTime(ctx)

	params := map[string]string{
		"pageIndex": strconv.Itoa(pageIndex),
		"pageSize":  strconv.Itoa(c.pageSize),
		"timestamp": strconv.FormatInt(timestamp, 10),
	}
	signature := c.Sign(canonicalQuery(params))

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("signature", signature)

	reqURL := c.baseURL + listPath + "?" + query.Encode()
	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(apiKeyHdr, c.apiKey)
		return req, nil
	}

	resp, err := doWithRetry(ctx, c.http, buildReq, c.logger)
	if err != nil {
		return nil, domain.Transient("fetch page", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &page, nil
}

// parseAccount maps one provider record onto an ExternalAccount. The
// provider uses "uid" or "id" for the key depending on the endpoint
// generation; everything unrecognized lands in the attrs bag.
func parseAccount(item map[string]any) domain.ExternalAccount {
	acc := domain.ExternalAccount{Attrs: make(map[string]any)}

	if v, ok := item["uid"]; ok {
		acc.AccountID = asString(v)
	} else if v, ok := item["id"]; ok {
		acc.AccountID = asString(v)
	}
	acc.Balance = asFloat(item["balanceVolume"])
	acc.RegisterTime = int64(asFloat(item["registerTime"]))
	if acc.RegisterTime > 0 {
		acc.RegisterTimeDisplay = time.UnixMilli(acc.RegisterTime).Format(timeFormat)
	}

	for k, v := range item {
		switch k {
		case "uid", "id", "balanceVolume", "registerTime":
		default:
			acc.Attrs[k] = v
		}
	}
	return acc
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}
