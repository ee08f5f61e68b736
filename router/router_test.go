package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zss/message"
	"zss/rpcerr"
)

type pong struct{}

func (p *pong) Ping(ctx context.Context, payload any) (any, error) {
	return "PONG", nil
}

func (p *pong) PongPing(ctx context.Context, payload any, headers message.Values) (any, error) {
	return headers.String("trace"), nil
}

func (p *pong) Fail(ctx context.Context, payload any) (any, error) {
	return nil, errors.New("boom")
}

func (p *pong) Wrong(payload any) any {
	return payload
}

func TestRegisterAndDispatch(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register("ping", PayloadFunc(func(ctx context.Context, payload any) (any, error) {
		return "PONG", nil
	})))

	result, err := r.Dispatch(context.Background(), "PING", nil, message.Values{})
	require.NoError(t, err)
	assert.Equal(t, "PONG", result)
	assert.True(t, r.Has("Ping"))
}

func TestRegisterRejects(t *testing.T) {
	r := New(nil)
	h := PayloadFunc(func(ctx context.Context, payload any) (any, error) { return nil, nil })

	assert.ErrorIs(t, r.Register("", h), ErrInvalidHandler)
	assert.ErrorIs(t, r.Register("ping", nil), ErrInvalidHandler)
	require.NoError(t, r.Register("ping", h))
	assert.ErrorIs(t, r.Register("PING", h), ErrDuplicateRoute)
}

func TestDispatchUnknownVerb(t *testing.T) {
	r := New(rpcerr.DefaultCatalog())

	_, err := r.Dispatch(context.Background(), "nope", nil, nil)
	rerr, ok := rpcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, 404, rerr.Code)
	assert.Equal(t, "Invalid route NOPE!", rerr.DeveloperMessage)
}

func TestDispatchPropagatesHandlerErrors(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.RegisterMethod(&pong{}, "fail"))

	_, err := r.Dispatch(context.Background(), "FAIL", nil, nil)
	assert.EqualError(t, err, "boom")
}

func TestRegisterMethod(t *testing.T) {
	r := New(nil)
	p := &pong{}

	require.NoError(t, r.RegisterMethod(p, "ping"))
	require.NoError(t, r.RegisterMethod(p, "pong/ping"))
	require.NoError(t, r.RegisterMethod(p, "alias", "Ping"))
	assert.Equal(t, []string{"ALIAS", "PING", "PONG/PING"}, r.Verbs())

	result, err := r.Dispatch(context.Background(), "pong/ping", nil, message.Values{"trace": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", result)

	result, err = r.Dispatch(context.Background(), "alias", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "PONG", result)
}

func TestRegisterMethodFailsFast(t *testing.T) {
	r := New(nil)

	assert.ErrorIs(t, r.RegisterMethod(&pong{}, "missing"), ErrInvalidHandler)
	err := r.RegisterMethod(&pong{}, "wrong")
	assert.ErrorIs(t, err, ErrInvalidHandler)
	assert.Contains(t, err.Error(), "func(any) (any)")
	assert.ErrorIs(t, r.RegisterMethod(nil, "ping"), ErrInvalidHandler)
	assert.Empty(t, r.Verbs())
}

func TestMethodName(t *testing.T) {
	cases := map[string]string{
		"PING":        "Ping",
		"PONG/PING":   "PongPing",
		"get_user":    "GetUser",
		"list-items2": "ListItems2",
	}
	for verb, want := range cases {
		assert.Equal(t, want, MethodName(verb), verb)
	}
}
