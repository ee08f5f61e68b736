// Package service runs a ZSS service: it announces itself to the broker,
// heartbeats, and answers the requests the broker routes to its SID.
//
// Request processing pipeline:
//
//	broker ──→ receiveLoop (single reader)
//	  → REQ: go dispatch (bounded by MaxInFlight)
//	    → Middleware Chain → businessHandler (sid check, Router.Dispatch) → Transport.Send(REP)
//	  → REP: SMI acknowledgment, logged
//
//	heartbeatLoop ──every Heartbeat──→ SMI HEARTBEAT
//
// The heartbeat and receive loops share the transport, whose send mutex keeps
// their frames from interleaving.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"zss/config"
	"zss/loadbalance"
	"zss/message"
	"zss/middleware"
	"zss/observability"
	"zss/protocol"
	"zss/registry"
	"zss/router"
	"zss/rpcerr"
	"zss/transport"
)

// ResponseTimeHeader carries the dispatch time in milliseconds on every successful reply.
const ResponseTimeHeader = "zss-response-time"

// ErrAlreadyStarted is returned by Run on a service that was already run.
var ErrAlreadyStarted = errors.New("service: already started")

// receiveBackoff spaces out receive attempts after a transport failure.
const receiveBackoff = 100 * time.Millisecond

type State int

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Option func(*Service)

func WithCatalog(catalog *rpcerr.Catalog) Option {
	return func(s *Service) { s.catalog = catalog }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) { s.baseLogger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

func WithSocketFactory(factory transport.SocketFactory) Option {
	return func(s *Service) { s.factory = factory }
}

// WithRegistry publishes the service's presence under its SID and, when the
// configuration has no backend endpoint, discovers one with balancer.
func WithRegistry(reg registry.Registry, balancer loadbalance.Balancer) Option {
	return func(s *Service) {
		s.registry = reg
		s.balancer = balancer
	}
}

func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Service) { s.middlewares = append(s.middlewares, mws...) }
}

// Service is a single ZSS service instance. Routes and middlewares are set up
// before Run.
type Service struct {
	sid         string
	cfg         config.Config
	catalog     *rpcerr.Catalog
	router      *router.Router
	baseLogger  logrus.FieldLogger
	log         *logrus.Entry
	metrics     *observability.Metrics
	factory     transport.SocketFactory
	registry    registry.Registry
	balancer    loadbalance.Balancer
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	transport *transport.Transport
	sem       *semaphore.Weighted
	inflight  sync.WaitGroup

	ctx    context.Context // handed to handlers, cancelled at the end of Stop
	cancel context.CancelFunc

	mu              sync.Mutex // guards state, started, downRID, downAck
	state           State
	started         bool
	downRID         string
	downAck         chan struct{}
	heartbeatCancel context.CancelFunc

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// New creates a service for sid. The sid is upper-cased; an empty sid is
// reported by Run.
func New(sid string, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		sid:        strings.ToUpper(strings.TrimSpace(sid)),
		cfg:        cfg,
		baseLogger: logrus.StandardLogger(),
		factory:    transport.DealerFactory,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = rpcerr.DefaultCatalog()
	}
	if s.balancer == nil {
		s.balancer = &loadbalance.RoundRobinBalancer{}
	}
	if s.cfg.Heartbeat <= 0 {
		s.cfg.Heartbeat = config.DefaultHeartbeat
	}
	if s.cfg.ShutdownTimeout <= 0 {
		s.cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if s.cfg.MaxInFlight <= 0 {
		s.cfg.MaxInFlight = config.DefaultMaxInFlight
	}
	s.router = router.New(s.catalog)
	s.sem = semaphore.NewWeighted(int64(s.cfg.MaxInFlight))
	s.log = s.baseLogger.WithFields(logrus.Fields{
		"sid": s.sid,
		"pid": os.Getpid(),
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Service) SID() string {
	return s.sid
}

// Identity is the socket identity of the running service, "" before Run.
func (s *Service) Identity() string {
	if s.transport == nil {
		return ""
	}
	return s.transport.Identity()
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once Stop has completed.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Verbs lists the routed verbs.
func (s *Service) Verbs() []string {
	return s.router.Verbs()
}

// AddRoute routes verb to h.
func (s *Service) AddRoute(verb string, h router.Handler) error {
	return s.router.Register(verb, h)
}

// AddMethod routes verb to a method of target, see router.RegisterMethod.
func (s *Service) AddMethod(target any, verb string, method ...string) error {
	return s.router.RegisterMethod(target, verb, method...)
}

// Use appends a middleware around request dispatch. Middlewares apply in the
// order they are added.
func (s *Service) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Run connects to the broker, announces the service and serves requests until
// Stop is called or ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.sid == "" {
		return s.catalog.WithMessage(500, "service id must not be empty")
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	if s.state == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	backend, err := s.backendEndpoint(ctx)
	if err != nil {
		s.markStopped()
		return err
	}
	frames, err := protocol.FrameCodecFor(s.cfg.Codec)
	if err != nil {
		s.markStopped()
		return err
	}

	s.transport = transport.New(backend, s.sid,
		transport.WithSocketFactory(s.factory),
		transport.WithFrameCodec(frames),
		transport.WithLogger(s.log),
	)
	// The broker may not be up yet: keep dialing until it is, ctx is
	// cancelled or Stop is called.
	connectCtx, cancelConnect := context.WithCancel(ctx)
	stopConnect := context.AfterFunc(s.ctx, cancelConnect)
	err = s.transport.Connect(connectCtx)
	stopConnect()
	cancelConnect()
	if err != nil {
		if ctx.Err() != nil || s.State() == Stopped {
			s.Stop()
			return nil
		}
		s.markStopped()
		return err
	}
	s.log = s.log.WithField("identity", s.transport.Identity())
	s.handler = s.buildHandler()

	s.log.WithFields(logrus.Fields{
		"env":    s.cfg.Env,
		"broker": backend,
		"verbs":  s.router.Verbs(),
	}).Info("starting service")

	if err := s.transport.Send(message.SMIUp(s.sid)); err != nil {
		s.transport.Disconnect()
		s.markStopped()
		return err
	}
	s.announce(ctx, backend)

	hbCtx, hbCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state != Created {
		// Stopped before it ever ran.
		s.mu.Unlock()
		hbCancel()
		s.withdraw()
		return s.transport.Disconnect()
	}
	s.state = Running
	s.heartbeatCancel = hbCancel
	s.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		s.heartbeatLoop(hbCtx)
		return nil
	})
	g.Go(func() error {
		s.receiveLoop()
		return nil
	})

	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.done:
	}
	g.Wait()
	return s.stopErr
}

func (s *Service) markStopped() {
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
}

func (s *Service) buildHandler() middleware.HandlerFunc {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(s.log)}
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, middleware.RateLimitMiddleware(s.cfg.RateLimit, burst, s.catalog))
	}
	mws = append(mws, s.middlewares...)
	return middleware.Chain(mws...)(s.businessHandler)
}

// backendEndpoint prefers the configured endpoint and falls back to discovery.
func (s *Service) backendEndpoint(ctx context.Context) (string, error) {
	if s.cfg.Backend != "" || s.registry == nil {
		return s.cfg.Backend, nil
	}
	instances, err := s.registry.Discover(ctx, s.cfg.BackendService)
	if err != nil {
		return "", err
	}
	inst, err := s.balancer.Pick(s.sid, instances)
	if err != nil {
		return "", fmt.Errorf("service: no broker backend registered as %q: %w", s.cfg.BackendService, err)
	}
	return inst.Endpoint, nil
}

func (s *Service) announce(ctx context.Context, backend string) {
	if s.registry == nil {
		return
	}
	ttl := s.cfg.PresenceTTL
	if ttl <= 0 {
		ttl = 10
	}
	err := s.registry.Register(ctx, s.sid, registry.Instance{
		ID:       s.transport.Identity(),
		Endpoint: backend,
		Weight:   1,
		Version:  message.AnyVersion,
		Meta:     map[string]string{"pid": fmt.Sprint(os.Getpid())},
	}, ttl)
	if err != nil {
		s.log.WithError(err).Warn("failed to register presence")
	}
}

func (s *Service) withdraw() {
	if s.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.registry.Deregister(ctx, s.sid, s.transport.Identity()); err != nil {
		s.log.WithError(err).Warn("failed to deregister presence")
	}
}

// heartbeatLoop keeps the service registered on the broker. Failures are
// logged and the loop carries on.
func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.transport.Send(message.SMIHeartbeat(s.sid))
			s.metrics.ObserveHeartbeat(s.sid, err)
			if err != nil {
				s.log.WithError(err).Warn("heartbeat failed")
			}
		}
	}
}

// receiveLoop reads until Stop disconnects the transport.
func (s *Service) receiveLoop() {
	for {
		msg, err := s.transport.Receive()
		if err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) {
				s.log.WithError(err).Warn("discarding malformed message")
				continue
			}
			if s.State() != Running {
				return
			}
			s.log.WithError(err).Error("receive failed")
			time.Sleep(receiveBackoff)
			continue
		}

		if !msg.IsRequest() {
			s.handleReply(msg)
			continue
		}
		s.handleRequest(msg)
	}
}

func (s *Service) handleReply(msg *message.Message) {
	if s.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		s.log.WithFields(msg.LogFields()).Tracef("SMI response received:\n%s", msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downRID != "" && msg.RID == s.downRID {
		close(s.downAck)
		s.downRID = ""
	}
}

func (s *Service) handleRequest(msg *message.Message) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		s.log.WithFields(msg.LogFields()).Warn("dropping request received while stopping")
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.inflight.Done()
		return
	}
	go func() {
		defer s.inflight.Done()
		defer s.sem.Release(1)
		s.dispatch(msg)
	}()
}

func (s *Service) dispatch(req *message.Message) {
	start := time.Now()
	s.log.WithFields(req.LogFields()).Infof("Handle request for %s", req.Address)
	if s.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		s.log.Tracef("Request message:\n%s", req)
	}

	reply, err := s.handler(s.ctx, req)
	if err != nil {
		reply = s.errorReply(req, err)
	}

	if err := s.transport.Send(reply); err != nil {
		s.log.WithFields(reply.LogFields()).WithError(err).Error("failed to send reply")
	}
	s.metrics.ObserveRequest(s.sid, req.Address.Verb, reply.Status, time.Since(start))
}

// businessHandler checks the SID and runs the routed handler. It is the
// innermost handler of the middleware chain.
func (s *Service) businessHandler(ctx context.Context, req *message.Message) (*message.Message, error) {
	start := time.Now()
	if req.Address.SID != s.sid {
		return nil, s.catalog.WithMessage(404, fmt.Sprintf("Invalid SID: %s!", req.Address.SID))
	}

	if req.Headers == nil {
		req.Headers = message.Values{}
	}
	result, err := s.router.Dispatch(ctx, req.Address.Verb, req.Payload(), req.Headers)
	if err != nil {
		return nil, err
	}

	req.Headers[ResponseTimeHeader] = float64(time.Since(start).Microseconds()) / 1000
	return req.NewReply(message.StatusOK, result), nil
}

// errorReply turns err into the structured error reply. Errors outside the
// rpcerr taxonomy become a generic 500 so handler internals stay local.
func (s *Service) errorReply(req *message.Message, err error) *message.Message {
	rerr, ok := rpcerr.As(err)
	entry := s.log.WithFields(req.LogFields()).WithError(err)
	switch {
	case !ok:
		entry.Error("unexpected error while processing request")
		rerr = s.catalog.Internal()
	case rerr.IsClientError():
		entry.WithField("code", rerr.Code).Info("request rejected")
	default:
		entry.WithField("code", rerr.Code).Error("request failed")
	}
	return req.NewReply(rerr.Code, rerr.Payload())
}

// Stop announces SMI DOWN, waits (bounded by ShutdownTimeout) for the broker
// to acknowledge it and for in-flight requests to finish, then disconnects.
// It is idempotent and safe to call from any goroutine.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.shutdown()
		close(s.done)
	})
	return s.stopErr
}

func (s *Service) shutdown() error {
	s.mu.Lock()
	if s.state != Running {
		s.state = Stopped
		s.mu.Unlock()
		s.cancel()
		return nil
	}
	s.state = Stopping
	down := message.SMIDown(s.sid)
	s.downRID = down.RID
	s.downAck = make(chan struct{})
	ack := s.downAck
	s.mu.Unlock()

	s.heartbeatCancel()
	s.log.Info("stopping service")

	if err := s.transport.Send(down); err != nil {
		s.log.WithError(err).Warn("failed to send SMI DOWN")
	} else {
		select {
		case <-ack:
		case <-time.After(s.cfg.ShutdownTimeout):
			s.log.WithField("timeout", s.cfg.ShutdownTimeout.String()).Warn("broker did not acknowledge SMI DOWN")
		}
	}

	if !s.waitInFlight(s.cfg.ShutdownTimeout) {
		s.log.Warn("in-flight requests still running at shutdown")
	}
	s.cancel()
	s.withdraw()

	err := s.transport.Disconnect()
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	s.log.Info("service stopped")
	return err
}

func (s *Service) waitInFlight(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
