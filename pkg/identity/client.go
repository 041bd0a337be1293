package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/people/pkg/observability"
)

const maxResponseBytes = 1 << 20

// Config holds the admin API connection settings
type Config struct {
	BaseURL string
	// AuthRealm is the realm the service principal authenticates against
	AuthRealm string
	Username  string
	Password  string
	ClientID  string
	Timeout   time.Duration

	// ClientCacheSize and ClientCacheTTL bound the realm client id cache
	ClientCacheSize int
	ClientCacheTTL  time.Duration
}

// Validate checks that the required connection settings are present
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("identity base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid identity base URL: %w", err)
	}
	if c.AuthRealm == "" {
		return fmt.Errorf("identity auth realm is required")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("identity service credentials are required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("identity client_id is required")
	}
	return nil
}

// Client talks to the identity provider admin API. It holds no session;
// every call chain starts with Authenticate.
type Client struct {
	cfg     Config
	http    *http.Client
	clients *lru.LRU[string, string]
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every request
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request counts and latency
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new admin API client
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ClientCacheSize <= 0 {
		cfg.ClientCacheSize = 64
	}

	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		clients: lru.NewLRU[string, string](cfg.ClientCacheSize, nil, cfg.ClientCacheTTL),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session is a short-lived authenticated handle on the admin API
type Session struct {
	http  *http.Client
	token *oauth2.Token
}

// Expiry returns when the session's access token expires
func (s *Session) Expiry() time.Time {
	if s == nil || s.token == nil {
		return time.Time{}
	}
	return s.token.Expiry
}

func (c *Client) tokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.cfg.BaseURL, url.PathEscape(c.cfg.AuthRealm))
}

// Authenticate obtains a fresh session with the password grant
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	start := time.Now()
	oc := &oauth2.Config{
		ClientID: c.cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := oc.PasswordCredentialsToken(ctx, c.cfg.Username, c.cfg.Password)
	if err != nil {
		perr := tokenError(err)
		c.observe("authenticate", perr.Status, start)
		return nil, perr
	}
	c.observe("authenticate", http.StatusOK, start)

	return &Session{http: oc.Client(ctx, tok), token: tok}, nil
}

func tokenError(err error) *ProviderError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = providerMessage(re.Response.StatusCode, re.Body)
		}
		return &ProviderError{Status: re.Response.StatusCode, Message: msg, Err: err}
	}
	return &ProviderError{Message: err.Error(), Err: err}
}

func (c *Client) observe(op string, status int, start time.Time) {
	c.metrics.ObserveIdentityRequest(op, status, time.Since(start))
}

func realmPath(realm string, parts ...string) string {
	p := "/admin/realms/" + url.PathEscape(realm)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// do issues one admin API request. Non-2xx answers become *ProviderError.
func (c *Client) do(ctx context.Context, s *Session, op, method, p string, query url.Values, in, out interface{}) (http.Header, error) {
	if s == nil || s.http == nil {
		return nil, fmt.Errorf("identity session is required")
	}
	start := time.Now()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	target := c.cfg.BaseURL + p
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		c.observe(op, 0, start)
		return nil, &ProviderError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observe(op, resp.StatusCode, start)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newProviderError(resp, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return resp.Header, nil
}

// ListClients returns every application client registered in realm
func (c *Client) ListClients(ctx context.Context, s *Session, realm string) ([]RealmClient, error) {
	var clients []RealmClient
	if _, err := c.do(ctx, s, "list_clients", http.MethodGet, realmPath(realm, "clients"), nil, nil, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// ResolveClient returns the internal id of the client registered as
// clientID in realm. Results are cached; the session is not.
func (c *Client) ResolveClient(ctx context.Context, s *Session, realm, clientID string) (string, error) {
	key := realm + "/" + clientID
	if id, ok := c.clients.Get(key); ok {
		return id, nil
	}

	clients, err := c.ListClients(ctx, s, realm)
	if err != nil {
		return "", err
	}
	for _, cl := range clients {
		if cl.ClientID == clientID {
			c.clients.Add(key, cl.ID)
			return cl.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s in realm %s", ErrClientNotFound, clientID, realm)
}

// CreateUser creates user in realm and returns it with the assigned id.
// Credentials are never echoed back.
func (c *Client) CreateUser(ctx context.Context, s *Session, realm string, user User) (*User, error) {
	header, err := c.do(ctx, s, "create_user", http.MethodPost, realmPath(realm, "users"), nil, user, nil)
	if err != nil {
		return nil, err
	}

	location := header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("identity provider did not return a Location for the new user")
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid Location header %q: %w", location, err)
	}

	created := user
	created.ID = path.Base(u.Path)
	created.Credentials = nil
	c.logger.WithFields(logrus.Fields{"realm": realm, "user_id": created.ID}).Debug("identity user created")
	return &created, nil
}

// FindUsers searches realm users, preserving the provider's ordering
func (c *Client) FindUsers(ctx context.Context, s *Session, realm string, q UserQuery) ([]User, error) {
	params := url.Values{}
	if q.Email != "" {
		params.Set("email", q.Email)
	}
	if q.Exact {
		params.Set("exact", "true")
	}
	if q.Max > 0 {
		params.Set("max", strconv.Itoa(q.Max))
	}

	var users []User
	if _, err := c.do(ctx, s, "find_users", http.MethodGet, realmPath(realm, "users"), params, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}
