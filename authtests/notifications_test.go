package authtests

import (
	"encoding/json"
	"testing"

	"github.com/jsonrpc-itest/auth-contract-tests/servicedef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConnectionUp(t *testing.T) {
	params := `{"uid":7,"groupId":2,"host":"localhost","userAgent":"internal","self":false,` +
		`"authFrom":5,"user":{"name":"alice","role":"operator"}}`
	for _, raw := range []string{params, "[" + params + "]"} {
		n, err := DecodeNotification(KindConnectionUp, json.RawMessage(raw))
		require.NoError(t, err)
		up, ok := n.(ConnectionUp)
		require.True(t, ok)
		assert.Equal(t, 7, up.UID)
		assert.Equal(t, 2, up.GroupID)
		assert.Equal(t, "alice", up.User.Name)
	}
}

func TestDecodeConnectionDown(t *testing.T) {
	n, err := DecodeNotification(KindConnectionDown, json.RawMessage(`[3,4]`))
	require.NoError(t, err)
	assert.Equal(t, ConnectionDown{UIDs: []int{3, 4}}, n)

	n, err = DecodeNotification(KindConnectionDown, json.RawMessage(`9`))
	require.NoError(t, err)
	assert.Equal(t, ConnectionDown{UIDs: []int{9}}, n)

	_, err = DecodeNotification(KindConnectionDown, json.RawMessage(`"x"`))
	assert.Error(t, err)
}

func TestDecodeSessionNotifications(t *testing.T) {
	n, err := DecodeNotification(KindSessionUp, json.RawMessage(
		`{"status":"login","user":{"id":2,"name":"bob"},"role":"operator","host":"h","userAgent":"u","session":3002}`))
	require.NoError(t, err)
	assert.Equal(t, SessionUp{servicedef.SessionUpInfo{
		Status: "login", User: servicedef.SessionUser{ID: 2, Name: "bob"},
		Role: "operator", Host: "h", UserAgent: "u", Session: 3002,
	}}, n)

	n, err = DecodeNotification(KindSessionDown, json.RawMessage(
		`[{"reason":1,"sessions":[3002],"user":{"id":2,"name":"bob"}}]`))
	require.NoError(t, err)
	down := n.(SessionDown)
	assert.Equal(t, servicedef.DownReasonLogout, down.Reason)
	assert.Equal(t, []int{3002}, down.Sessions)
}

func TestDecodeRejectsUnknownKindAndBadPayload(t *testing.T) {
	_, err := DecodeNotification(Kind("Auth.Something"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownNotification)

	_, err = DecodeNotification(KindSessionUp, json.RawMessage(`[{}, {}]`))
	assert.Error(t, err)
}
