package transport_test

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zss/message"
	"zss/protocol"
	"zss/transport"
	"zss/transport/transporttest"
)

const endpoint = "tcp://127.0.0.1:5560"

func newTransport(b *transporttest.Broker) *transport.Transport {
	return transport.New(endpoint, "client", transport.WithSocketFactory(b.Factory()))
}

func TestConnectDisconnect(t *testing.T) {
	b := transporttest.NewBroker()
	tr := newTransport(b)

	require.NoError(t, tr.Connect(context.Background()))
	assert.True(t, tr.Connected())
	identity := tr.Identity()
	assert.True(t, strings.HasPrefix(identity, "client#"), identity)
	assert.Equal(t, []string{identity}, b.Connected())

	// Already connected: same socket, same identity.
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, identity, tr.Identity())

	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect())
	assert.False(t, tr.Connected())
	assert.Empty(t, tr.Identity())
	assert.Empty(t, b.Connected())

	require.NoError(t, tr.Connect(context.Background()))
	assert.NotEqual(t, identity, tr.Identity(), "every connection gets a fresh suffix")
	tr.Disconnect()
}

func TestConnectFailure(t *testing.T) {
	b := transporttest.NewBroker()
	b.FailDial(syscall.ECONNREFUSED)
	tr := newTransport(b)

	err := tr.Connect(context.Background())
	var te *transport.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connect", te.Op)
	assert.Equal(t, int(syscall.ECONNREFUSED), te.Code)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.False(t, tr.Connected())
}

func TestSendReceiveWhenDisconnected(t *testing.T) {
	tr := newTransport(transporttest.NewBroker())

	err := tr.Send(message.New(message.NewAddress("ping", "ping"), nil))
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	_, err = tr.Receive()
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

// recordingSocket keeps everything sent through it and replays scripted replies.
type recordingSocket struct {
	sent    [][][]byte
	onSend  func(frames [][]byte) [][][]byte
	inbox   chan zmq4.Msg
	closed  chan struct{}
	dialled string
}

func newRecordingSocket() *recordingSocket {
	return &recordingSocket{inbox: make(chan zmq4.Msg, 16), closed: make(chan struct{})}
}

func (s *recordingSocket) Dial(ep string) error { s.dialled = ep; return nil }

func (s *recordingSocket) SendMulti(msg zmq4.Msg) error {
	s.sent = append(s.sent, msg.Frames)
	if s.onSend != nil {
		for _, reply := range s.onSend(msg.Frames) {
			s.inbox <- zmq4.NewMsgFrom(reply...)
		}
	}
	return nil
}

func (s *recordingSocket) Recv() (zmq4.Msg, error) {
	select {
	case m := <-s.inbox:
		return m, nil
	case <-s.closed:
		return zmq4.Msg{}, errors.New("closed")
	}
}

func (s *recordingSocket) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func withSocket(s *recordingSocket) transport.Option {
	return transport.WithSocketFactory(func(ctx context.Context, identity string) transport.Socket {
		return s
	})
}

func TestSendDropsIdentityForRequests(t *testing.T) {
	s := newRecordingSocket()
	tr := transport.New(endpoint, "client", withSocket(s))
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()
	assert.Equal(t, endpoint, s.dialled)

	req := message.New(message.NewAddress("ping", "ping"), "hello")
	require.NoError(t, tr.Send(req))

	reply := &message.Message{
		Identity: "caller#1",
		Type:     message.Reply,
		RID:      req.RID,
		Address:  req.Address,
		Headers:  message.Values{},
		Status:   200,
	}
	require.NoError(t, tr.Send(reply))

	require.Len(t, s.sent, 2)
	assert.Len(t, s.sent[0], protocol.FrameCount-1)
	assert.Equal(t, "ZSS:0.0", string(s.sent[0][0]))
	assert.Len(t, s.sent[1], protocol.FrameCount)
	assert.Equal(t, "caller#1", string(s.sent[1][0]))
}

func TestReceiveMalformedFrames(t *testing.T) {
	s := newRecordingSocket()
	tr := transport.New(endpoint, "client", withSocket(s))
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	s.inbox <- zmq4.NewMsgFrom([]byte("only"), []byte("three"), []byte("frames"))
	_, err := tr.Receive()
	var perr *protocol.Error
	assert.ErrorAs(t, err, &perr)
}

func replyFrames(t *testing.T, rid string, payload any) [][]byte {
	t.Helper()
	msg := &message.Message{
		Type:    message.Reply,
		RID:     rid,
		Address: message.NewAddress("ping", "ping"),
		Headers: message.Values{},
		Status:  200,
	}
	msg.SetPayload(payload)
	frames, err := protocol.Serialize(msg)
	require.NoError(t, err)
	return frames[1:]
}

func TestCallReturnsMatchingReply(t *testing.T) {
	s := newRecordingSocket()
	s.onSend = func(frames [][]byte) [][][]byte {
		rid := string(frames[2])
		return [][][]byte{
			replyFrames(t, "stale-rid", "STALE"),
			{[]byte("garbage")},
			replyFrames(t, rid, "PONG"),
		}
	}
	tr := transport.New(endpoint, "client", withSocket(s))

	req := message.New(message.NewAddress("ping", "ping"), nil)
	reply, err := tr.Call(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, req.RID, reply.RID)
	assert.Equal(t, "PONG", reply.Payload())
	assert.False(t, tr.Connected(), "call always disconnects")
}

func TestCallThroughBroker(t *testing.T) {
	b := transporttest.NewBroker()
	b.Respond("ping", func(req *message.Message) *message.Message {
		reply := &message.Message{Address: req.Address, Headers: message.Values{}, Status: 200}
		reply.SetPayload("PONG")
		return reply
	})
	tr := newTransport(b)

	req := message.New(message.NewAddress("ping", "ping"), nil)
	reply, err := tr.Call(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 200, reply.Status)
	assert.Equal(t, "PONG", reply.Payload())
	assert.Empty(t, b.Connected())
}

func TestCallTimeout(t *testing.T) {
	b := transporttest.NewBroker()
	b.Respond("ping", func(*message.Message) *message.Message { return nil })
	tr := newTransport(b)

	req := message.New(message.NewAddress("ping", "ping"), nil)
	start := time.Now()
	_, err := tr.Call(context.Background(), req, 200*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	var te *transport.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, req.RID, te.RID)
	var tre *transport.TransportError
	assert.ErrorAs(t, err, &tre)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.False(t, tr.Connected())
	assert.Empty(t, b.Connected())
}

func TestCallContextCanceled(t *testing.T) {
	b := transporttest.NewBroker()
	b.Respond("ping", func(*message.Message) *message.Message { return nil })
	tr := newTransport(b)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.Call(ctx, message.New(message.NewAddress("ping", "ping"), nil), time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, tr.Connected())
}
