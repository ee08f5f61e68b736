package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zss/message"
	"zss/rpcerr"
)

func TestRequires(t *testing.T) {
	catalog := rpcerr.DefaultCatalog()
	params := message.Values{"name": "pong", "blank": "  ", "list": []any{}}

	assert.NoError(t, Requires(catalog, params, "name"))
	assert.NoError(t, Requires(catalog, params, "NAME"))

	for _, attr := range []string{"missing", "blank", "list"} {
		err := Requires(catalog, params, "name", attr)
		e, ok := rpcerr.As(err)
		require.True(t, ok, attr)
		assert.Equal(t, 400, e.Code)
		assert.Equal(t, "Invalid parameter '"+attr+"'", e.DeveloperMessage)
	}
}

func TestPermit(t *testing.T) {
	params := message.Values{"name": "pong", "age": 3, "admin": true}

	got := Permit(params, "name", "age")
	assert.Equal(t, message.Values{"name": "pong", "age": 3}, got)
	assert.Equal(t, got, params)
}

func TestPermitMatchesLikeRequires(t *testing.T) {
	catalog := rpcerr.DefaultCatalog()
	params := message.Values{"userName": "pong", "Admin-Flag": true, "other": 1}

	require.NoError(t, Requires(catalog, params, "user_name"))
	got := Permit(params, "user_name", "admin_flag")
	assert.Equal(t, message.Values{"userName": "pong", "Admin-Flag": true}, got)
	assert.NoError(t, Requires(catalog, got, "user_name", "admin_flag"))
}

func TestIsValidURI(t *testing.T) {
	assert.True(t, IsValidURI("tcp://127.0.0.1:5560"))
	assert.True(t, IsValidURI("ipc://socket"))
	assert.True(t, IsValidURI("ipc:///tmp/zss.sock"))
	assert.False(t, IsValidURI("127.0.0.1:5560"))
	assert.False(t, IsValidURI(""))
	assert.False(t, IsValidURI("://bad"))
}
