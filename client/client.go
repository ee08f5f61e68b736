// Package client calls ZSS services through the broker frontend.
//
// Every call is a fresh request/reply round trip:
//
//	Call(verb) → Message{SID, VERB, new RID} → Middleware Chain → Transport.Call
//	  → status 200: reply payload
//	  → otherwise: *rpcerr.Error built from the reply payload
//
// Transport failures and timeouts reach the caller unchanged.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"zss/config"
	"zss/loadbalance"
	"zss/message"
	"zss/middleware"
	"zss/observability"
	"zss/protocol"
	"zss/registry"
	"zss/rpcerr"
	"zss/transport"
)

// Caller performs one request/reply exchange. *transport.Transport is the
// production Caller; tests substitute doubles.
type Caller interface {
	Call(ctx context.Context, req *message.Message, timeout time.Duration) (*message.Message, error)
}

type Option func(*Client)

// WithCaller replaces the per-call transport with caller.
func WithCaller(caller Caller) Option {
	return func(c *Client) { c.caller = caller }
}

func WithCatalog(catalog *rpcerr.Catalog) Option {
	return func(c *Client) { c.catalog = catalog }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.baseLogger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

func WithSocketFactory(factory transport.SocketFactory) Option {
	return func(c *Client) { c.factory = factory }
}

// WithRegistry discovers the broker frontend instead of using the configured
// endpoint. balancer picks among frontends, keyed by the client's SID.
func WithRegistry(reg registry.Registry, balancer loadbalance.Balancer) Option {
	return func(c *Client) {
		c.registry = reg
		c.balancer = balancer
	}
}

// WithMiddleware wraps every call, e.g. with middleware.RetryMiddleware.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

type CallOption func(*callOptions)

type callOptions struct {
	headers message.Values
	timeout time.Duration
}

// WithHeaders adds request headers.
func WithHeaders(headers message.Values) CallOption {
	return func(o *callOptions) {
		for k, v := range headers {
			o.headers[k] = v
		}
	}
}

// WithTimeout overrides the configured call timeout.
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = timeout }
}

// Client is bound to one service. It is safe for concurrent use: every call
// gets its own connection.
type Client struct {
	sid         string
	cfg         config.Config
	catalog     *rpcerr.Catalog
	baseLogger  logrus.FieldLogger
	log         *logrus.Entry
	metrics     *observability.Metrics
	factory     transport.SocketFactory
	frames      *protocol.FrameCodec
	registry    registry.Registry
	balancer    loadbalance.Balancer
	caller      Caller
	middlewares []middleware.Middleware
}

// New creates a client for the service sid.
func New(sid string, cfg config.Config, opts ...Option) (*Client, error) {
	c := &Client{
		sid:        strings.ToUpper(strings.TrimSpace(sid)),
		cfg:        cfg,
		baseLogger: logrus.StandardLogger(),
		factory:    transport.DealerFactory,
	}
	if c.sid == "" {
		return nil, errors.New("client: service id must not be empty")
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.catalog == nil {
		c.catalog = rpcerr.DefaultCatalog()
	}
	if c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	if c.cfg.Timeout <= 0 {
		c.cfg.Timeout = config.DefaultTimeout
	}
	if c.cfg.Identity == "" {
		c.cfg.Identity = config.DefaultIdentity
	}

	frames, err := protocol.FrameCodecFor(c.cfg.Codec)
	if err != nil {
		return nil, err
	}
	c.frames = frames
	c.log = c.baseLogger.WithField("sid", c.sid)
	return c, nil
}

func (c *Client) SID() string {
	return c.sid
}

// Call sends payload to verb and returns the reply payload. A non-200 reply
// is returned as *rpcerr.Error.
func (c *Client) Call(ctx context.Context, verb string, payload any, opts ...CallOption) (any, error) {
	o := callOptions{headers: message.Values{}, timeout: c.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}

	req := message.New(message.NewAddress(c.sid, verb), payload)
	for k, v := range o.headers {
		req.Headers[k] = v
	}

	handler := middleware.Chain(c.middlewares...)(func(ctx context.Context, req *message.Message) (*message.Message, error) {
		return c.roundTrip(ctx, req, o.timeout)
	})

	start := time.Now()
	reply, err := handler(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "transport_error"
		if errors.Is(err, transport.ErrTimeout) {
			outcome = "timeout"
		}
		c.metrics.ObserveCall(c.sid, req.Address.Verb, outcome, elapsed)
		c.log.WithFields(logrus.Fields{
			"rid":     req.RID,
			"address": req.Address.String(),
		}).WithError(err).Warn("call failed")
		return nil, err
	}

	if reply.IsError() {
		c.metrics.ObserveCall(c.sid, req.Address.Verb, "error_reply", elapsed)
		return nil, c.catalog.FromReply(reply.Status, reply.Payload())
	}

	c.metrics.ObserveCall(c.sid, req.Address.Verb, "ok", elapsed)
	c.log.WithFields(logrus.Fields{
		"rid":      req.RID,
		"address":  req.Address.String(),
		"duration": elapsed.String(),
	}).Debug("call succeeded")
	return reply.Payload(), nil
}

// Invoke calls the verb spelled by name, with underscores read as slashes:
// "pong_ping" calls PONG/PING.
func (c *Client) Invoke(ctx context.Context, name string, payload any, opts ...CallOption) (any, error) {
	return c.Call(ctx, strings.ReplaceAll(name, "_", "/"), payload, opts...)
}

// roundTrip is the innermost handler of the middleware chain.
func (c *Client) roundTrip(ctx context.Context, req *message.Message, timeout time.Duration) (*message.Message, error) {
	caller := c.caller
	if caller == nil {
		frontend, err := c.frontend(ctx)
		if err != nil {
			return nil, err
		}
		caller = transport.New(frontend, c.cfg.Identity,
			transport.WithSocketFactory(c.factory),
			transport.WithFrameCodec(c.frames),
			transport.WithLogger(c.log),
		)
	}
	return caller.Call(ctx, req, timeout)
}

func (c *Client) frontend(ctx context.Context) (string, error) {
	if c.cfg.Frontend != "" || c.registry == nil {
		return c.cfg.Frontend, nil
	}
	instances, err := c.registry.Discover(ctx, c.cfg.FrontendService)
	if err != nil {
		return "", err
	}
	inst, err := c.balancer.Pick(c.sid, instances)
	if err != nil {
		return "", fmt.Errorf("client: no broker frontend registered as %q: %w", c.cfg.FrontendService, err)
	}
	return inst.Endpoint, nil
}
