// Package message defines the ZSS message exchanged between clients, brokers
// and services.
//
// A Message is the structured view of the 8 wire frames:
//
//	identity | protocol | type | rid | address | headers | status | payload
//
// The protocol package converts between the two. Messages are value objects:
// they are created and consumed within a single call or dispatch cycle.
package message

import (
	"fmt"
	"regexp"

	"zss/codec"
	"zss/ids"
)

// ProtocolVersion is carried in frame 1 of every message.
const ProtocolVersion = "ZSS:0.0"

// bigPayload is the payload size above which payloads are left out of logs.
const bigPayload = 1024

// Type distinguishes requests from replies. Both values travel verbatim.
type Type string

const (
	Request Type = "REQ"
	Reply   Type = "REP"
)

// StatusOK is the only status that is not an error.
const StatusOK = 200

var clientIDPattern = regexp.MustCompile(`^(.+?)#`)

var payloadCodec codec.Codec = &codec.MsgpackCodec{}

// Message carries a single request or reply.
//
//   - On request:  Status is 0, Identity is usually empty (the broker adds routing).
//   - On reply:    Status is 200 on success, any other value is an error and the
//     payload carries errorCode, userMessage and developerMessage.
type Message struct {
	Identity string  // Routing token of the peer the broker relays for
	Protocol string  // Always ProtocolVersion for messages built here
	Type     Type    // Request or Reply
	RID      string  // Correlation id, copied verbatim into the reply
	Address  Address // Target service and verb
	Headers  Values  // Out-of-band metadata, e.g. zss-response-time
	Status   int     // 0 on requests

	payload     any
	payloadSize int
	sized       bool // payloadSize is known
}

// New builds a request addressed to address with a fresh RID.
func New(address Address, payload any) *Message {
	msg := &Message{
		Protocol: ProtocolVersion,
		Type:     Request,
		RID:      ids.NewRID(),
		Address:  address,
		Headers:  Values{},
	}
	msg.SetPayload(payload)
	return msg
}

// NewReply answers m: same identity, rid, address and headers, type Reply.
// The headers map is shared, so headers a handler set on the request travel back.
func (m *Message) NewReply(status int, payload any) *Message {
	headers := m.Headers
	if headers == nil {
		headers = Values{}
	}
	reply := &Message{
		Identity: m.Identity,
		Protocol: ProtocolVersion,
		Type:     Reply,
		RID:      m.RID,
		Address:  m.Address,
		Headers:  headers,
		Status:   status,
	}
	reply.SetPayload(payload)
	return reply
}

// Payload returns the message payload.
func (m *Message) Payload() any {
	return m.payload
}

// SetPayload replaces the payload. Its encoded size is measured on demand.
func (m *Message) SetPayload(payload any) {
	m.payload = payload
	m.payloadSize, m.sized = 0, false
}

// SetDecodedPayload stores a payload whose encoded size the decoder already knows.
func (m *Message) SetDecodedPayload(payload any, size int) {
	m.payload = payload
	m.SetPayloadSize(size)
}

// SetPayloadSize records the encoded size of the current payload, as measured
// by whoever just encoded it.
func (m *Message) SetPayloadSize(size int) {
	m.payloadSize, m.sized = size, true
}

// PayloadSize is the byte length of the encoded payload. Diagnostic only: a
// payload that cannot be encoded reports 0.
func (m *Message) PayloadSize() int {
	if !m.sized {
		m.payloadSize = 0
		if data, err := payloadCodec.Encode(m.payload); err == nil {
			m.payloadSize = len(data)
		}
		m.sized = true
	}
	return m.payloadSize
}

func (m *Message) IsRequest() bool {
	return m.Type == Request
}

func (m *Message) IsError() bool {
	return m.Status != StatusOK
}

// Big reports whether the payload is too large to be logged.
func (m *Message) Big() bool {
	return m.PayloadSize() > bigPayload
}

// ClientID recovers the base identity from "<base>#<suffix>" identities.
func (m *Message) ClientID() string {
	match := clientIDPattern.FindStringSubmatch(m.Identity)
	if match == nil {
		return ""
	}
	return match[1]
}

// LogFields returns the message as structured log fields.
func (m *Message) LogFields() map[string]any {
	var payload any = m.payload
	if m.Big() {
		payload = "<<Message too big to log>>"
	}
	return map[string]any{
		"client":       m.ClientID(),
		"identity":     m.Identity,
		"protocol":     m.Protocol,
		"type":         string(m.Type),
		"rid":          m.RID,
		"address":      m.Address.String(),
		"headers":      map[string]any(m.Headers),
		"status":       m.Status,
		"payload":      payload,
		"payload-size": m.PayloadSize(),
	}
}

// String dumps the message frame by frame, for trace logging.
func (m *Message) String() string {
	return fmt.Sprintf(`FRAME 0:
  IDENTITY : %s
FRAME 1:
  PROTOCOL : %s
FRAME 2:
  TYPE     : %s
FRAME 3:
  RID      : %s
FRAME 4:
  SID      : %s
  VERB     : %s
  SVERSION : %s
FRAME 5:
  HEADERS  : %v
FRAME 6:
  STATUS   : %d
FRAME 7:
  PAYLOAD  : %v
`, m.Identity, m.Protocol, m.Type, m.RID,
		m.Address.SID, m.Address.Verb, m.Address.SVersion,
		map[string]any(m.Headers), m.Status, m.payload)
}
