// Package transporttest provides an in-memory broker and sockets that stand
// in for ZeroMQ in tests.
//
// The Broker relays like a ZSS broker: requests to SID go to a connected
// socket whose identity starts with "SID#", with the caller's identity as
// frame 0; replies travel back to the identity named in frame 0. Requests to
// the SMI control plane are recorded and acknowledged.
package transporttest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-zeromq/zmq4"

	"zss/message"
	"zss/protocol"
	"zss/transport"
)

// ErrClosed is returned by Recv and SendMulti on a closed socket.
var ErrClosed = errors.New("transporttest: socket closed")

// Announcement is an SMI request seen by the broker.
type Announcement struct {
	Verb     string
	SID      string
	Identity string
}

// ResponderFunc answers a request addressed to a SID served by the broker itself.
type ResponderFunc func(req *message.Message) *message.Message

type Broker struct {
	mu            sync.Mutex
	sockets       map[string]*Socket
	announcements []Announcement
	responders    map[string]ResponderFunc
	silentSMI     map[string]bool
	dialErr       error
	announced     chan Announcement
}

func NewBroker() *Broker {
	return &Broker{
		sockets:    make(map[string]*Socket),
		responders: make(map[string]ResponderFunc),
		silentSMI:  make(map[string]bool),
		announced:  make(chan Announcement, 1024),
	}
}

// Factory returns a socket factory bound to this broker.
func (b *Broker) Factory() transport.SocketFactory {
	return func(ctx context.Context, identity string) transport.Socket {
		return b.NewSocket(identity)
	}
}

func (b *Broker) NewSocket(identity string) *Socket {
	return &Socket{
		broker:   b,
		identity: identity,
		inbox:    make(chan zmq4.Msg, 256),
		closed:   make(chan struct{}),
	}
}

// FailDial makes every subsequent Dial fail with err. Pass nil to restore.
func (b *Broker) FailDial(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// Silence stops the broker from acknowledging SMI requests with verb.
func (b *Broker) Silence(verb string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silentSMI[verb] = true
}

// Respond makes the broker answer requests to sid itself.
func (b *Broker) Respond(sid string, fn ResponderFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders[strings.ToUpper(sid)] = fn
}

// Announcements returns the SMI requests seen so far.
func (b *Broker) Announcements() []Announcement {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Announcement(nil), b.announcements...)
}

// Announced delivers every SMI request as it arrives.
func (b *Broker) Announced() <-chan Announcement {
	return b.announced
}

// Count returns how many SMI requests with verb were seen for sid.
func (b *Broker) Count(verb, sid string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, a := range b.announcements {
		if a.Verb == verb && a.SID == sid {
			n++
		}
	}
	return n
}

// Connected returns the identities of the sockets currently dialed in.
func (b *Broker) Connected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.sockets))
	for id := range b.sockets {
		ids = append(ids, id)
	}
	return ids
}

// Deliver pushes frames straight into the socket with identity.
func (b *Broker) Deliver(identity string, frames ...[]byte) bool {
	b.mu.Lock()
	s := b.sockets[identity]
	b.mu.Unlock()
	if s == nil {
		return false
	}
	return s.deliver(frames)
}

func (b *Broker) attach(s *Socket) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialErr != nil {
		return b.dialErr
	}
	b.sockets[s.identity] = s
	return nil
}

func (b *Broker) detach(s *Socket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sockets[s.identity] == s {
		delete(b.sockets, s.identity)
	}
}

func (b *Broker) route(from *Socket, frames [][]byte) {
	if len(frames) == protocol.FrameCount {
		// A service reply: frame 0 names the requester.
		b.Deliver(string(frames[0]), frames[1:]...)
		return
	}

	req, err := protocol.Parse(frames)
	if err != nil || !req.IsRequest() {
		return
	}

	if req.Address.SID == message.SMI {
		b.announce(from, req)
		return
	}

	b.mu.Lock()
	responder := b.responders[req.Address.SID]
	var target *Socket
	if responder == nil {
		prefix := req.Address.SID + "#"
		for id, s := range b.sockets {
			if strings.HasPrefix(id, prefix) {
				target = s
				break
			}
		}
	}
	b.mu.Unlock()

	switch {
	case responder != nil:
		if reply := responder(req); reply != nil {
			reply.RID = req.RID
			reply.Type = message.Reply
			b.reply(from, reply)
		}
	case target != nil:
		target.deliver(append([][]byte{[]byte(from.identity)}, frames...))
	default:
		b.reply(from, &message.Message{
			Type:    message.Reply,
			RID:     req.RID,
			Address: req.Address,
			Status:  404,
		}, message.Values{
			"errorCode":        404,
			"developerMessage": "Invalid SID: " + req.Address.SID + "!",
			"userMessage":      "The requested resource was not found.",
		})
	}
}

func (b *Broker) announce(from *Socket, req *message.Message) {
	sid, _ := req.Payload().(string)
	a := Announcement{Verb: req.Address.Verb, SID: sid, Identity: from.identity}

	b.mu.Lock()
	b.announcements = append(b.announcements, a)
	silent := b.silentSMI[a.Verb]
	b.mu.Unlock()

	select {
	case b.announced <- a:
	default:
	}

	if silent {
		return
	}
	b.reply(from, &message.Message{
		Type:    message.Reply,
		RID:     req.RID,
		Address: req.Address,
		Status:  message.StatusOK,
	}, "OK")
}

func (b *Broker) reply(to *Socket, msg *message.Message, payload ...any) {
	if len(payload) > 0 {
		msg.SetPayload(payload[0])
	}
	if msg.Headers == nil {
		msg.Headers = message.Values{}
	}
	frames, err := protocol.Serialize(msg)
	if err != nil {
		return
	}
	to.deliver(frames[1:])
}
