package transporttest

import (
	"sync"

	"github.com/go-zeromq/zmq4"
)

// Socket is an in-memory DEALER attached to a Broker.
type Socket struct {
	broker   *Broker
	identity string
	inbox    chan zmq4.Msg
	closed   chan struct{}
	once     sync.Once

	mu       sync.Mutex
	endpoint string
}

func (s *Socket) Identity() string {
	return s.identity
}

// Endpoint returns the endpoint passed to Dial.
func (s *Socket) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

func (s *Socket) Dial(endpoint string) error {
	if err := s.broker.attach(s); err != nil {
		return err
	}
	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()
	return nil
}

func (s *Socket) SendMulti(msg zmq4.Msg) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	frames := make([][]byte, len(msg.Frames))
	for i, f := range msg.Frames {
		frames[i] = append([]byte(nil), f...)
	}
	s.broker.route(s, frames)
	return nil
}

func (s *Socket) Recv() (zmq4.Msg, error) {
	select {
	case msg := <-s.inbox:
		return msg, nil
	case <-s.closed:
		return zmq4.Msg{}, ErrClosed
	}
}

func (s *Socket) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.broker.detach(s)
	})
	return nil
}

func (s *Socket) deliver(frames [][]byte) bool {
	select {
	case <-s.closed:
		return false
	case s.inbox <- zmq4.NewMsgFrom(frames...):
		return true
	}
}
