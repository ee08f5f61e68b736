package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressNormalization(t *testing.T) {
	addr := NewAddress("service", "verb")

	assert.Equal(t, "SERVICE", addr.SID)
	assert.Equal(t, "VERB", addr.Verb)
	assert.Equal(t, "*", addr.SVersion)

	versioned := addr.WithVersion("v.1")
	assert.Equal(t, "V.1", versioned.SVersion)
	assert.Equal(t, "SERVICE:V.1#VERB", versioned.String())
	assert.Equal(t, "*", addr.SVersion, "WithVersion must not modify the receiver")

	assert.Equal(t, NewAddress("SERVICE", "VERB"), addr)
}

func TestAddressFromValues(t *testing.T) {
	addr := AddressFromValues(Values{"sid": "pong", "verb": "ping"})
	assert.Equal(t, NewAddress("PONG", "PING"), addr)

	addr = AddressFromValues(Values{"SID": "pong", "Verb": "ping", "sversion": "v2"})
	assert.Equal(t, "V2", addr.SVersion)
}

func TestNewMessageDefaults(t *testing.T) {
	msg := New(NewAddress("service", "verb"), "some data")

	assert.Empty(t, msg.Identity)
	assert.Equal(t, ProtocolVersion, msg.Protocol)
	assert.Equal(t, Request, msg.Type)
	assert.NotEmpty(t, msg.RID)
	assert.Equal(t, 0, msg.Status)
	assert.Equal(t, "some data", msg.Payload())
	assert.NotNil(t, msg.Headers)
	assert.True(t, msg.IsRequest())
	assert.True(t, msg.IsError())

	assert.NotEqual(t, msg.RID, New(NewAddress("service", "verb"), nil).RID)
}

func TestPayloadSizeFollowsPayload(t *testing.T) {
	msg := New(NewAddress("service", "verb"), "a")
	small := msg.PayloadSize()
	assert.Positive(t, small)
	assert.False(t, msg.Big())

	msg.SetPayload(strings.Repeat("x", 2048))
	assert.Greater(t, msg.PayloadSize(), 2048)
	assert.True(t, msg.Big())
	assert.Equal(t, "<<Message too big to log>>", msg.LogFields()["payload"])

	msg.SetPayload("a")
	assert.Equal(t, small, msg.PayloadSize())
}

func TestClientID(t *testing.T) {
	msg := &Message{Identity: "client#01HZX"}
	assert.Equal(t, "client", msg.ClientID())

	msg.Identity = "no-separator"
	assert.Empty(t, msg.ClientID())
}

func TestValuesLookup(t *testing.T) {
	v := Values{"developerMessage": "dev info", "error_code": int64(404)}

	val, ok := v.Get("developerMessage")
	require.True(t, ok)
	assert.Equal(t, "dev info", val)

	assert.Equal(t, "dev info", v.String("developermessage"))
	assert.Equal(t, "dev info", v.String("developer_message"))
	assert.Equal(t, 404, v.Int("errorCode"))
	assert.False(t, v.Has("missing"))
	assert.Empty(t, v.String("missing"))
}

func TestValuesLookupPrefersExactThenSmallestKey(t *testing.T) {
	v := Values{"user_message": "snake", "userMessage": "camel"}

	assert.Equal(t, "snake", v.String("user_message"))
	assert.Equal(t, "camel", v.String("userMessage"))
	for i := 0; i < 50; i++ {
		assert.Equal(t, "camel", v.String("UserMessage"))
	}
}

func TestPayloadSizeIsMeasuredOnDemand(t *testing.T) {
	msg := New(NewAddress("service", "verb"), "a")
	msg.SetPayloadSize(7)
	assert.Equal(t, 7, msg.PayloadSize())

	msg.SetPayload(func() {})
	assert.Zero(t, msg.PayloadSize())
}

func TestNormalizeNestedMaps(t *testing.T) {
	decoded := Normalize(map[string]any{
		"outer": map[string]any{"Inner": "x"},
		"list":  []any{map[string]any{"k": "v"}},
	})

	v, ok := decoded.(Values)
	require.True(t, ok)
	assert.Equal(t, "x", v.Values("outer").String("inner"))

	list := v["list"].([]any)
	assert.Equal(t, "v", list[0].(Values).String("k"))
}

func TestSMIMessages(t *testing.T) {
	cases := map[string]*Message{
		VerbUp:        SMIUp("PONG"),
		VerbDown:      SMIDown("PONG"),
		VerbHeartbeat: SMIHeartbeat("PONG"),
	}
	for verb, msg := range cases {
		assert.Equal(t, SMI, msg.Address.SID)
		assert.Equal(t, verb, msg.Address.Verb)
		assert.Equal(t, "PONG", msg.Payload())
		assert.Equal(t, Request, msg.Type)
	}
}

func TestNewReply(t *testing.T) {
	req := New(NewAddress("ping", "ping"), "ping")
	req.Identity = "client#01"
	req.Headers["trace"] = "abc"

	reply := req.NewReply(StatusOK, "PONG")
	assert.Equal(t, Reply, reply.Type)
	assert.Equal(t, req.RID, reply.RID)
	assert.Equal(t, "client#01", reply.Identity)
	assert.Equal(t, req.Address, reply.Address)
	assert.Equal(t, "abc", reply.Headers["trace"])
	assert.Equal(t, "PONG", reply.Payload())
	assert.False(t, reply.IsError())
}
