package deribit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Credentials is the API key/secret pair used for the client_credentials
// grant on both the REST and WebSocket transports.
type Credentials struct {
	Key    string
	Secret string
}

// Config holds REST client settings.
type Config struct {
	Credentials Credentials
	Testnet     bool
	// BaseURL overrides the exchange endpoint; used by tests. When empty the
	// production or testnet URL is chosen from Testnet.
	BaseURL string
	// Observer, when set, receives the method name, round-trip latency, and
	// outcome of every request. Used to feed the monitor histograms.
	Observer func(method string, elapsed time.Duration, err error)
}

// Client is a synchronous JSON-RPC-over-HTTPS client. It owns the REST
// session token and refreshes it lazily before any authenticated call.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	observer   func(string, time.Duration, error)
	reqID      atomic.Int64

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
	refreshTok  string
}

// authResult is the result payload of public/auth.
type authResult struct {
	AccessToken  string  `json:"access_token"`
	ExpiresIn    float64 `json:"expires_in"`
	RefreshToken string  `json:"refresh_token"`
	Scope        string  `json:"scope"`
}

// NewClient builds a client and performs the initial authentication.
// Authentication failure aborts construction.
func NewClient(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = "https://www.deribit.com/api/v2"
		if cfg.Testnet {
			base = "https://test.deribit.com/api/v2"
		}
	}
	c := &Client{
		baseURL:    base,
		creds:      cfg.Credentials,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Deribit credits sustained traffic; 20 req/s stays well inside the
		// non-matching-engine allowance.
		limiter:  rate.NewLimiter(rate.Limit(20), 40),
		observer: cfg.Observer,
	}
	if err := c.Authenticate(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Authenticate issues a client_credentials grant and stores the session
// token with its absolute expiry. On any failure the previous token is
// cleared, not preserved.
func (c *Client) Authenticate(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	c.accessToken = ""
	c.tokenExpiry = time.Time{}

	raw, err := c.send(ctx, "public/auth", map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     c.creds.Key,
		"client_secret": c.creds.Secret,
	}, "")
	if err != nil {
		return &AuthenticationError{Reason: "auth request failed", Err: err}
	}

	var res authResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return &AuthenticationError{Reason: "malformed auth result", Err: err}
	}
	if res.AccessToken == "" {
		return &AuthenticationError{Reason: "auth result missing access_token"}
	}

	c.accessToken = res.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(res.ExpiresIn * float64(time.Second)))
	c.refreshTok = res.RefreshToken
	log.Printf("deribit: authenticated, token expires in %.0fs scope=%q", res.ExpiresIn, res.Scope)
	return nil
}

// SendPublic issues an unauthenticated JSON-RPC call and returns the raw
// result payload.
func (c *Client) SendPublic(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.send(ctx, method, params, "")
}

// SendAuthenticated re-authenticates first if the session token has expired,
// then issues the call with a bearer header.
func (c *Client) SendAuthenticated(ctx context.Context, method string, params any) (json.RawMessage, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, params, token)
}

// ensureToken returns a valid access token, refreshing synchronously when
// the stored one has expired.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.accessToken == "" || !time.Now().Before(c.tokenExpiry) {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.accessToken, nil
}

// send performs one JSON-RPC round trip. A connection failure maps to
// TransportError, an unparseable body to ProtocolError, and a server error
// object to ExchangeError.
func (c *Client) send(ctx context.Context, method string, params any, bearer string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}

	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProtocolError{Op: method, Reason: "encode request: " + err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(method, elapsed, err)
		return nil, &TransportError{Op: method, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		c.observe(method, elapsed, err)
		return nil, &TransportError{Op: method, Err: err}
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		perr := &ProtocolError{Op: method, Reason: "unparseable response body", Raw: raw}
		c.observe(method, elapsed, perr)
		log.Printf("deribit: %s returned unparseable body: %s", method, truncate(raw, 512))
		return nil, perr
	}
	if resp.Error != nil {
		c.observe(method, elapsed, resp.Error)
		return nil, resp.Error
	}

	c.observe(method, elapsed, nil)
	return resp.Result, nil
}

func (c *Client) observe(method string, elapsed time.Duration, err error) {
	if c.observer != nil {
		c.observer(method, elapsed, err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
