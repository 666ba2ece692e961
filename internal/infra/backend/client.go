package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Spok95/wms-pda/internal/domain/order"
	"github.com/Spok95/wms-pda/internal/infra/idgen"
	"github.com/Spok95/wms-pda/internal/infra/metrics"
)

const maxBody = 8 << 20 // larger responses are cut and fail to decode

// Paths are the endpoints shared by all order kinds.
type Paths struct {
	LocationTree string
	LocationBins string
	Dict         string
}

var DefaultPaths = Paths{
	LocationTree: "/normalService/pda/wmsMaterialInstock/getInStockLocation",
	LocationBins: "/normalService/pda/wmsMaterialInstock/pageLocationQuery",
	Dict:         "/normalService/pda/pmsWorkOrder/getWorkOrderDictList",
}

type Option func(*Client)

// WithHTTPClient replaces the default client; WithTimeout then applies to it.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing calls per second; 0 disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0) // Wait returns at once
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithRequestIDs stamps every call with an X-Request-Id for server logs.
func WithRequestIDs(g *idgen.Generator) Option { return func(c *Client) { c.ids = g } }

// WithPaths overrides the shared endpoints; empty fields keep the defaults.
func WithPaths(p Paths) Option {
	return func(c *Client) {
		if p.LocationTree != "" {
			c.paths.LocationTree = p.LocationTree
		}
		if p.LocationBins != "" {
			c.paths.LocationBins = p.LocationBins
		}
		if p.Dict != "" {
			c.paths.Dict = p.Dict
		}
	}
}

// Client talks JSON over HTTP to the warehouse backend.
type Client struct {
	base    *url.URL
	cc      ClientContext
	token   string // cleaned, without quotes or "Bearer"
	http    *http.Client
	limiter *rate.Limiter
	ids     *idgen.Generator
	log     *slog.Logger
	paths   Paths
}

func New(cc ClientContext, opts ...Option) (*Client, error) {
	base, err := cc.parseBase()
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:    base,
		cc:      cc,
		token:   CleanToken(cc.Token),
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
		log:     slog.New(slog.DiscardHandler),
		paths:   DefaultPaths,
	}
	for _, opt := range opts {
		opt(c)
	}
	// an expired token still gets sent, the server has the last word
	if exp, ok := cc.TokenExpiry(); ok && time.Until(exp) < 0 {
		c.log.Warn("backend token already expired", "expired_at", exp)
	}
	return c, nil
}

func (c *Client) Context() ClientContext { return c.cc }

// url joins the base (which may carry a path prefix) and an endpoint path.
func (c *Client) url(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = q.Encode()
	return u.String()
}

// do sends one request and decodes the envelope. Transport failures, non-2xx
// statuses and undecodable bodies come back as *order.NetworkError.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &order.NetworkError{Op: op, Err: err}
	}

	// 1) request
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, q), rdr)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	// the token header name varies by deployment
	if c.token != "" {
		req.Header.Set("token", c.token)
		req.Header.Set("satoken", c.token)
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ids != nil {
		req.Header.Set("X-Request-Id", c.ids.NextString())
	}

	// 2) round trip
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BackendDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		c.log.Warn("backend call failed", "op", op, "path", path, "err", err)
		return nil, &order.NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	elapsed := time.Since(start)
	metrics.BackendDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(elapsed.Seconds())
	c.log.Debug("backend call", "op", op, "method", method, "path", path, "status", resp.StatusCode, "latency_ms", elapsed.Milliseconds())
	if err != nil {
		return nil, &order.NetworkError{Op: op, Status: resp.StatusCode, Err: err}
	}

	// 3) envelope; a non-2xx body may still carry a usable message
	var env envelope
	decErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ne := &order.NetworkError{Op: op, Status: resp.StatusCode}
		if decErr == nil {
			ne.Message = env.Message
		}
		c.log.Warn("backend returned error status", "op", op, "status", resp.StatusCode, "message", ne.Message)
		return nil, ne
	}
	if decErr != nil {
		return nil, &order.NetworkError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decErr)}
	}
	// success=false is a business answer; callers decide what it means
	if !env.Success {
		c.log.Warn("backend rejected call", "op", op, "message", env.Message)
	}
	return &env, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values) (*envelope, error) {
	return c.do(ctx, op, http.MethodGet, path, q, nil)
}

func (c *Client) post(ctx context.Context, op, path string, body any) (*envelope, error) {
	return c.do(ctx, op, http.MethodPost, path, nil, body)
}
