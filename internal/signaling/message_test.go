package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJoin(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    JoinPayload
		wantErr error
	}{
		{name: "host with pin", raw: `{"room":"42","role":"host","pin":"1234"}`, want: JoinPayload{Room: "42", Role: RoleHost, Pin: strPtr("1234")}},
		{name: "client without pin", raw: `{"room":"42","role":"client"}`, want: JoinPayload{Room: "42", Role: RoleClient}},
		{name: "room trimmed", raw: `{"room":"\t42 ","role":"client"}`, want: JoinPayload{Room: "42", Role: RoleClient}},
		{name: "missing room", raw: `{"role":"client"}`, wantErr: ErrMissingRoom},
		{name: "unknown role", raw: `{"room":"42","role":"viewer"}`, wantErr: ErrInvalidRole},
		{name: "role is case sensitive", raw: `{"room":"42","role":"Host"}`, wantErr: ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeJoin(json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeVerifyPin(t *testing.T) {
	p, err := decodeVerifyPin(json.RawMessage(`{"room":" r ","pin":""}`))
	require.NoError(t, err)
	assert.Equal(t, "r", p.Room)
	require.NotNil(t, p.Pin)
	assert.Equal(t, "", *p.Pin)

	_, err = decodeVerifyPin(json.RawMessage(`{"room":"r"}`))
	assert.ErrorIs(t, err, ErrMissingPin)

	_, err = decodeVerifyPin(nil)
	assert.Error(t, err)
}

func TestDecodeSignal(t *testing.T) {
	p, err := decodeSignal(json.RawMessage(`{"room":"r","role":"client","data":{"candidate":null}}`))
	require.NoError(t, err)
	assert.Equal(t, RoleClient, p.Role)
	assert.JSONEq(t, `{"candidate":null}`, string(p.Data))

	_, err = decodeSignal(json.RawMessage(`{"room":"r","role":"client"}`))
	assert.ErrorIs(t, err, ErrMissingData)
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeReady, ReadyPayload{Room: "42"})
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ready","payload":{"room":"42"}}`, string(data))

	msg, err = NewMessage(TypeReady, nil)
	require.NoError(t, err)
	data, err = json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ready"}`, string(data))
}

func TestRole(t *testing.T) {
	assert.Equal(t, RoleClient, RoleHost.Opposite())
	assert.Equal(t, RoleHost, RoleClient.Opposite())
	assert.False(t, Role("").Valid())
}
