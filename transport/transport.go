// Package transport moves ZSS messages over a ZeroMQ DEALER socket.
//
// A Transport owns at most one socket at a time. Its identity is
// "<base>#<suffix>", with a fresh suffix on every Connect so the broker never
// routes a late reply to a newer connection:
//
//	Connect ──→ DEALER(identity=base#ULID) ──dial──→ broker
//	Send    ──→ Serialize ──→ drop identity frame (REQ) ──→ SendMulti
//	Receive ←── Recv ←── Parse (7 or 8 frames)
//
// Call is the request/reply round trip used by clients: it connects, sends,
// waits for the reply with the same RID, and always disconnects, including
// when the wait times out.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/sirupsen/logrus"

	"zss/codec"
	"zss/ids"
	"zss/message"
	"zss/protocol"
)

// ErrNotConnected is returned by Send and Receive before Connect or after Disconnect.
var ErrNotConnected = errors.New("transport: not connected")

// Socket is the part of a zmq4 socket the transport uses.
type Socket interface {
	Dial(endpoint string) error
	SendMulti(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	Close() error
}

// SocketFactory creates an unconnected socket with the given identity.
type SocketFactory func(ctx context.Context, identity string) Socket

// dialRetry is the pause between two attempts to reach an endpoint that is
// not accepting connections yet.
const dialRetry = 50 * time.Millisecond

// DealerFactory creates zmq4 DEALER sockets. Their Dial keeps retrying until
// the endpoint accepts or the socket is closed, so a broker may come up after
// its services and clients.
func DealerFactory(ctx context.Context, identity string) Socket {
	return zmq4.NewDealer(ctx,
		zmq4.WithID(zmq4.SocketIdentity(identity)),
		zmq4.WithDialerRetry(dialRetry),
		zmq4.WithDialerMaxRetries(-1),
	)
}

type Option func(*Transport)

func WithSocketFactory(factory SocketFactory) Option {
	return func(t *Transport) { t.factory = factory }
}

func WithFrameCodec(fc *protocol.FrameCodec) Option {
	return func(t *Transport) { t.frames = fc }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(t *Transport) { t.logger = logger }
}

type Transport struct {
	endpoint     string
	baseIdentity string
	factory      SocketFactory
	frames       *protocol.FrameCodec
	logger       logrus.FieldLogger

	mu       sync.Mutex // guards socket, identity and cancel
	socket   Socket
	identity string
	cancel   context.CancelFunc

	sending sync.Mutex // one multipart send at a time, frames must not interleave
}

// New creates a disconnected transport for endpoint.
func New(endpoint, baseIdentity string, opts ...Option) *Transport {
	t := &Transport{
		endpoint:     endpoint,
		baseIdentity: baseIdentity,
		factory:      DealerFactory,
		frames:       protocol.NewFrameCodec(&codec.MsgpackCodec{}),
		logger:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Endpoint() string {
	return t.endpoint
}

// Identity returns the identity of the current connection, or "" when disconnected.
func (t *Transport) Identity() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socket != nil
}

// Connect opens a socket with a fresh identity and dials the endpoint.
// ctx bounds the dial only: the socket stays open until Disconnect.
// Connecting an already connected transport is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.socket != nil {
		return nil
	}

	identity := t.baseIdentity + "#" + ids.NewSuffix()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	socket := t.factory(sctx, identity)

	dialed := make(chan error, 1)
	go func() {
		dialed <- socket.Dial(t.endpoint)
	}()

	select {
	case err := <-dialed:
		if err != nil {
			socket.Close()
			cancel()
			return newTransportError("connect", err)
		}
	case <-ctx.Done():
		// Cancelling the socket context aborts the pending dial; the socket is
		// closed once Dial has returned so no late connection is left behind.
		cancel()
		go func() {
			<-dialed
			socket.Close()
		}()
		return newTransportError("connect", ctx.Err())
	}

	t.socket = socket
	t.identity = identity
	t.cancel = cancel
	t.logger.WithFields(logrus.Fields{
		"endpoint": t.endpoint,
		"identity": identity,
	}).Debug("transport connected")
	return nil
}

// Disconnect closes the socket. It is safe to call more than once.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	socket, cancel, identity := t.socket, t.cancel, t.identity
	t.socket, t.cancel, t.identity = nil, nil, ""
	t.mu.Unlock()

	if socket == nil {
		return nil
	}
	err := socket.Close()
	cancel()
	t.logger.WithField("identity", identity).Debug("transport disconnected")
	if err != nil {
		return newTransportError("close", err)
	}
	return nil
}

func (t *Transport) current() Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socket
}

// Send serializes msg and sends it. Requests leave without the identity frame;
// replies keep it so the broker can route them back.
func (t *Transport) Send(msg *message.Message) error {
	socket := t.current()
	if socket == nil {
		return ErrNotConnected
	}

	frames, err := t.frames.Serialize(msg)
	if err != nil {
		return err
	}
	if msg.Type == message.Request {
		frames = frames[1:]
	}

	t.sending.Lock()
	defer t.sending.Unlock()
	if err := socket.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		return newTransportError("send", err)
	}
	return nil
}

// Receive blocks until a message arrives or the socket is closed. Transport
// failures are *TransportError; undecodable frame sets are *protocol.Error.
func (t *Transport) Receive() (*message.Message, error) {
	socket := t.current()
	if socket == nil {
		return nil, ErrNotConnected
	}

	msg, err := socket.Recv()
	if err != nil {
		return nil, newTransportError("receive", err)
	}
	return t.frames.Parse(msg.Frames)
}

// Call sends req and waits up to timeout for the reply carrying req.RID.
// The timeout covers the whole exchange: connecting, sending and waiting.
// Replies to other RIDs are discarded. The transport is connected on demand
// and always disconnected before Call returns.
func (t *Transport) Call(ctx context.Context, req *message.Message, timeout time.Duration) (*message.Message, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.Connect(callCtx); err != nil {
		if callCtx.Err() != nil {
			return nil, t.expired(ctx, req, timeout)
		}
		return nil, err
	}
	defer t.Disconnect()

	type result struct {
		msg *message.Message
		err error
	}
	// Buffered: the exchange must never block once Call has given up.
	results := make(chan result, 1)
	go func() {
		if err := t.Send(req); err != nil {
			results <- result{err: err}
			return
		}
		for {
			reply, err := t.Receive()
			if err != nil {
				var perr *protocol.Error
				if errors.As(err, &perr) {
					t.logger.WithError(err).Warn("discarding malformed reply")
					continue
				}
				results <- result{err: err}
				return
			}
			if reply.RID != req.RID {
				t.logger.WithFields(logrus.Fields{
					"rid":      reply.RID,
					"expected": req.RID,
				}).Debug("discarding reply for another request")
				continue
			}
			results <- result{msg: reply}
			return
		}
	}()

	select {
	case r := <-results:
		return r.msg, r.err
	case <-callCtx.Done():
		return nil, t.expired(ctx, req, timeout)
	}
}

// expired reports why a call deadline fired: the caller's own cancellation
// wins over the call timeout.
func (t *Transport) expired(ctx context.Context, req *message.Message, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return &TimeoutError{Address: req.Address, RID: req.RID, Timeout: timeout}
}

// ErrTimeout matches every *TimeoutError through errors.Is.
var ErrTimeout = errors.New("transport: call timed out")

// TimeoutError reports a call that did not receive its reply in time. It
// unwraps to a *TransportError so callers handling transport failures see it too.
type TimeoutError struct {
	Address message.Address
	RID     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: call to %s (rid %s) timed out after %s", e.Address, e.RID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return &TransportError{
		Op:          "receive",
		Code:        int(syscall.ETIMEDOUT),
		Description: fmt.Sprintf("no reply within %s", e.Timeout),
		Err:         syscall.ETIMEDOUT,
	}
}

// TransportError wraps a socket failure. Code is the OS errno when one is
// available, 0 otherwise.
type TransportError struct {
	Op          string
	Code        int
	Description string
	Err         error
}

func newTransportError(op string, err error) *TransportError {
	te := &TransportError{Op: op, Description: err.Error(), Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		te.Code = int(errno)
	}
	return te
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport: %s: [%d] %s", e.Op, e.Code, e.Description)
	}
	return fmt.Sprintf("transport: %s: %s", e.Op, e.Description)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
