package marketplace

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"xarid-sync/models"
	"xarid-sync/utils"
)

const (
	authEndpoint = "/auth"
	// Read-only reference calls go through /rpc without a token.
	rpcEndpoint = "/rpc"
	// Procedure mutations require a bearer token on /urpc.
	urpcEndpoint = "/urpc"

	listingRef = "ref_online_shop_public"

	// Tokens are treated as expired slightly early so a call never
	// races the real expiry.
	expirySlack = 5 * time.Second
)

// Session is the explicit token state threaded through authenticated
// calls. It is a value owned by the client, never ambient globals.
type Session struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ExpiresAt    time.Time
}

// Expired reports whether the access token needs refreshing.
func (s *Session) Expired() bool {
	if s == nil || s.AccessToken == "" {
		return true
	}
	return !time.Now().Before(s.ExpiresAt)
}

// Options configures a marketplace Client.
type Options struct {
	BaseURL     string
	Origin      string
	Login       string
	Password    string
	ClientID    string
	InsecureTLS bool
	Timeout     time.Duration
	Logger      *utils.Logger
}

// Client is the JSON-RPC gateway to the procurement marketplace API.
type Client struct {
	baseURL    string
	origin     string
	login      string
	password   string
	clientID   string
	httpClient *http.Client
	logger     *utils.Logger
	session    *Session

	// callHook, when set, observes every RPC method issued. Used to
	// feed batch metrics without coupling this package to them.
	callHook func(method string)
}

// NewClient creates a marketplace Client. It does not authenticate;
// call Authenticate before any /urpc operation.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("marketplace: base URL is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		// The upstream API serves an incomplete certificate chain.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:  base,
		origin:   opts.Origin,
		login:    opts.Login,
		password: opts.Password,
		clientID: opts.ClientID,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: opts.Logger,
	}, nil
}

// SetCallHook registers an observer invoked once per RPC call.
func (c *Client) SetCallHook(hook func(method string)) {
	c.callHook = hook
}

// SetHTTPClient replaces the underlying HTTP client (tests).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

type rpcEnvelope struct {
	ID      int    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call issues one JSON-RPC request and returns the raw result member.
func (c *Client) call(ctx context.Context, endpoint, method string, params any, session *Session) (json.RawMessage, error) {
	if c.callHook != nil {
		c.callHook(method)
	}

	body, err := json.Marshal(rpcEnvelope{ID: 1, JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marketplace: marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("marketplace: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	if session != nil {
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, TransportError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s: %s", method, strings.TrimSpace(string(raw))),
		}
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("marketplace: decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return nil, RPCError{Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Result) == 0 || string(parsed.Result) == "null" {
		return nil, ErrNoResult
	}
	return parsed.Result, nil
}

type tokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (c *Client) sessionFromToken(res tokenResult) *Session {
	expiresIn := res.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 10
	}
	return &Session{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ClientID:     c.clientID,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Second).Add(-expirySlack),
	}
}

// Authenticate performs the password grant and stores the session.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	result, err := c.call(ctx, authEndpoint, "token", map[string]any{
		"grant_type": "password",
		"login":      c.login,
		"password":   c.password,
		"client_id":  c.clientID,
	}, nil)
	if err != nil {
		return nil, SessionError{Err: err}
	}

	var res tokenResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, SessionError{Err: fmt.Errorf("decode token result: %w", err)}
	}
	if res.AccessToken == "" {
		return nil, SessionError{Err: fmt.Errorf("no access token in result")}
	}

	c.session = c.sessionFromToken(res)
	c.logger.Debug("[marketplace] authenticated, token expires at %s",
		c.session.ExpiresAt.Format(time.RFC3339))
	return c.session, nil
}

// refresh exchanges the refresh token for a new session.
func (c *Client) refresh(ctx context.Context, session *Session) (*Session, error) {
	result, err := c.call(ctx, authEndpoint, "token", map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": session.RefreshToken,
		"client_id":     session.ClientID,
	}, nil)
	if err != nil {
		return nil, SessionError{Err: err}
	}

	var res tokenResult
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, SessionError{Err: fmt.Errorf("decode token result: %w", err)}
	}
	if res.AccessToken == "" {
		return nil, SessionError{Err: fmt.Errorf("no access token in result")}
	}
	return c.sessionFromToken(res), nil
}

// ensureSession returns a live session, refreshing or re-authenticating
// as needed before any authenticated call.
func (c *Client) ensureSession(ctx context.Context) (*Session, error) {
	if !c.session.Expired() {
		return c.session, nil
	}
	if c.session != nil && c.session.RefreshToken != "" {
		c.logger.Debug("[marketplace] token expired, refreshing")
		fresh, err := c.refresh(ctx, c.session)
		if err == nil {
			c.session = fresh
			return c.session, nil
		}
		c.logger.Warn("[marketplace] token refresh failed, re-authenticating: %v", err)
	}
	return c.Authenticate(ctx)
}

// ReadListings fetches one page of the public listing reference.
// Each entry is the raw JSON object for one listing.
func (c *Client) ReadListings(ctx context.Context, limit, offset int) ([]json.RawMessage, error) {
	result, err := c.call(ctx, rpcEndpoint, "ref", map[string]any{
		"ref":    listingRef,
		"op":     "read",
		"limit":  limit,
		"offset": offset,
		"filters": map[string]string{
			"is_national": "false",
			"is_gos_shop": "true",
		},
	}, nil)
	if err != nil {
		return nil, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("marketplace: decode listing page: %w", err)
	}
	return entries, nil
}

// CreateProcedure creates an ad procedure for the product payload and
// returns the remote-assigned procedure ID.
func (c *Client) CreateProcedure(ctx context.Context, product map[string]any) (int64, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return 0, err
	}

	result, err := c.call(ctx, urpcEndpoint, "create_procedure", map[string]any{
		"type":    "ad",
		"product": product,
	}, session)
	if err != nil {
		return 0, err
	}

	var res struct {
		ProcID int64 `json:"proc_id"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return 0, fmt.Errorf("marketplace: decode create_procedure result: %w", err)
	}
	if res.ProcID == 0 {
		return 0, fmt.Errorf("marketplace: no proc_id in create_procedure result")
	}
	return res.ProcID, nil
}

// FetchLiveFields retrieves the live field set of a procedure.
func (c *Client) FetchLiveFields(ctx context.Context, procID int64) (map[string]models.RemoteField, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.call(ctx, urpcEndpoint, "get_procedure", map[string]any{
		"proc_id": strconv.FormatInt(procID, 10),
	}, session)
	if err != nil {
		return nil, err
	}

	var res struct {
		Fields map[string]models.RemoteField `json:"fields"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, fmt.Errorf("marketplace: decode get_procedure result: %w", err)
	}
	return res.Fields, nil
}

// SetField pushes one field value onto a live procedure.
func (c *Client) SetField(ctx context.Context, procID int64, name string, value any) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	_, err = c.call(ctx, urpcEndpoint, "update_procedure_field", map[string]any{
		"proc_id":     procID,
		"field_id":    name,
		"field_value": value,
	}, session)
	if err != nil && !errors.Is(err, ErrNoResult) {
		// A bare 200 without a result member still counts as success;
		// only an error member or transport failure does not.
		return err
	}
	return nil
}
