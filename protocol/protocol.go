// Package protocol implements the ZSS multipart frame format.
//
// A message travels as exactly 8 frames:
//
//	 0          1          2       3      4          5          6         7
//	┌──────────┬──────────┬──────┬──────┬──────────┬──────────┬────────┬──────────┐
//	│ identity │ protocol │ type │ rid  │ address  │ headers  │ status │ payload  │
//	│  string  │ ZSS:0.0  │REQ|REP│ uuid│ {map}    │ {map}    │ "200"  │ value    │
//	└──────────┴──────────┴──────┴──────┴──────────┴──────────┴────────┴──────────┘
//
// Address, headers and payload are encoded with a value codec (msgpack by
// default). A DEALER socket sending on its own behalf omits the identity frame;
// Parse accepts those 7-frame sets and restores the empty identity.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"zss/codec"
	"zss/message"
)

const (
	FrameCount = 8

	frameIdentity = 0
	frameProtocol = 1
	frameType     = 2
	frameRID      = 3
	frameAddress  = 4
	frameHeaders  = 5
	frameStatus   = 6
	framePayload  = 7
)

var frameNames = [FrameCount]string{"identity", "protocol", "type", "rid", "address", "headers", "status", "payload"}

// Error reports a malformed frame set or a value the codec could not handle.
type Error struct {
	Frame string // Name of the offending frame, empty for frame-count errors
	Err   error
}

func (e *Error) Error() string {
	if e.Frame == "" {
		return "protocol: " + e.Err.Error()
	}
	return fmt.Sprintf("protocol: frame %s: %v", e.Frame, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FrameCodec converts between messages and frames using a value codec.
type FrameCodec struct {
	values codec.Codec
}

func NewFrameCodec(c codec.Codec) *FrameCodec {
	return &FrameCodec{values: c}
}

var defaultFrameCodec = NewFrameCodec(&codec.MsgpackCodec{})

// FrameCodecFor returns a frame codec for a configured codec name.
func FrameCodecFor(name string) (*FrameCodec, error) {
	ct, err := codec.ParseCodecType(name)
	if err != nil {
		return nil, err
	}
	return NewFrameCodec(codec.GetCodec(ct)), nil
}

// Parse decodes frames with the default msgpack value codec.
func Parse(frames [][]byte) (*message.Message, error) {
	return defaultFrameCodec.Parse(frames)
}

// Serialize encodes msg with the default msgpack value codec.
func Serialize(msg *message.Message) ([][]byte, error) {
	return defaultFrameCodec.Serialize(msg)
}

// Parse decodes a 7- or 8-frame set into a message.
func (c *FrameCodec) Parse(frames [][]byte) (*message.Message, error) {
	if len(frames) == FrameCount-1 {
		frames = append([][]byte{nil}, frames...)
	}
	if len(frames) != FrameCount {
		return nil, &Error{Err: fmt.Errorf("expected %d frames, got %d", FrameCount, len(frames))}
	}

	msgType := message.Type(frames[frameType])
	if msgType != message.Request && msgType != message.Reply {
		return nil, &Error{Frame: frameNames[frameType], Err: fmt.Errorf("unknown message type %q", msgType)}
	}

	address, err := c.decodeMap(frames, frameAddress)
	if err != nil {
		return nil, err
	}
	headers, err := c.decodeMap(frames, frameHeaders)
	if err != nil {
		return nil, err
	}

	status := 0
	if s := strings.TrimSpace(string(frames[frameStatus])); s != "" {
		status, err = strconv.Atoi(s)
		if err != nil {
			return nil, &Error{Frame: frameNames[frameStatus], Err: err}
		}
	}

	var payload any
	if len(frames[framePayload]) > 0 {
		if err := c.values.Decode(frames[framePayload], &payload); err != nil {
			return nil, &Error{Frame: frameNames[framePayload], Err: err}
		}
	}

	msg := &message.Message{
		Identity: string(frames[frameIdentity]),
		Protocol: string(frames[frameProtocol]),
		Type:     msgType,
		RID:      string(frames[frameRID]),
		Address:  message.AddressFromValues(address),
		Headers:  headers,
		Status:   status,
	}
	msg.SetDecodedPayload(message.Normalize(payload), len(frames[framePayload]))
	return msg, nil
}

// Serialize encodes msg into exactly 8 frames. The identity frame is always
// present; transports drop it when the socket adds routing itself. The encoded
// payload size is recorded on msg.
func (c *FrameCodec) Serialize(msg *message.Message) ([][]byte, error) {
	if msg == nil {
		return nil, &Error{Err: fmt.Errorf("nil message")}
	}
	if msg.Address.IsZero() {
		return nil, &Error{Frame: frameNames[frameAddress], Err: fmt.Errorf("message is not addressed")}
	}

	address, err := c.values.Encode(msg.Address.Map())
	if err != nil {
		return nil, &Error{Frame: frameNames[frameAddress], Err: err}
	}

	headers := msg.Headers
	if headers == nil {
		headers = message.Values{}
	}
	headerData, err := c.values.Encode(map[string]any(headers))
	if err != nil {
		return nil, &Error{Frame: frameNames[frameHeaders], Err: err}
	}

	payload, err := c.values.Encode(msg.Payload())
	if err != nil {
		return nil, &Error{Frame: frameNames[framePayload], Err: err}
	}
	msg.SetPayloadSize(len(payload))

	protocol := msg.Protocol
	if protocol == "" {
		protocol = message.ProtocolVersion
	}

	return [][]byte{
		[]byte(msg.Identity),
		[]byte(protocol),
		[]byte(msg.Type),
		[]byte(msg.RID),
		address,
		headerData,
		[]byte(strconv.Itoa(msg.Status)),
		payload,
	}, nil
}

func (c *FrameCodec) decodeMap(frames [][]byte, idx int) (message.Values, error) {
	if len(frames[idx]) == 0 {
		return message.Values{}, nil
	}
	var decoded any
	if err := c.values.Decode(frames[idx], &decoded); err != nil {
		return nil, &Error{Frame: frameNames[idx], Err: err}
	}
	if decoded == nil {
		return message.Values{}, nil
	}
	values, ok := message.Normalize(decoded).(message.Values)
	if !ok {
		return nil, &Error{Frame: frameNames[idx], Err: fmt.Errorf("expected a map, got %T", decoded)}
	}
	return values, nil
}
