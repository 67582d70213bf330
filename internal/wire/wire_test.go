package wire_test

import (
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/wire"
)

func TestConnRoundTripsEnvelope(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	serverConn := wire.NewConn(server)
	clientConn := wire.NewConn(client)

	want := wire.Envelope{Method: wire.MethodSense, ID: "env-1", Timestamp: time.Unix(0, 0).UTC()}

	go func() {
		_ = serverConn.WriteEnvelope(want)
	}()

	got, ok, err := clientConn.ReadEnvelope()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want.Method, got.Method)
	require.Equal(t, want.ID, got.ID)
}

func TestConnIgnoresBlankLinesAndStripsCR(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	clientConn := wire.NewConn(client)

	go func() {
		_, _ = server.Write([]byte("\r\n\n{\"method\":\"act_ack\",\"id\":\"a1\",\"timestamp\":\"2024-01-01T00:00:00Z\",\"body\":{}}\r\n"))
	}()

	env, ok, err := clientConn.ReadEnvelope()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, wire.MethodActAck, env.Method)
	require.Equal(t, "a1", env.ID)
}

func TestConnCleanEOFReturnsNoError(t *testing.T) {
	server, client := net.Pipe()
	clientConn := wire.NewConn(client)

	server.Close()

	_, ok, err := clientConn.ReadEnvelope()
	require.NoError(t, err)
	require.False(t, ok)

	client.Close()
}

func TestConnMalformedEnvelopeErrors(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	clientConn := wire.NewConn(client)

	go func() {
		_, _ = server.Write([]byte("not json\n"))
	}()

	_, _, err := clientConn.ReadEnvelope()
	require.Error(t, err)
}

func TestTokenValidatorAcceptsValidHS256Token(t *testing.T) {
	secret := []byte("test-secret")
	v := wire.NewTokenValidator(secret)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "endpoint-a"})
	signed, err := tok.SignedString(secret)
	require.NoError(t, err)

	sub, err := v.Validate(signed)
	require.NoError(t, err)
	require.Equal(t, "endpoint-a", sub)
}

func TestTokenValidatorRejectsEmptyOrBadToken(t *testing.T) {
	v := wire.NewTokenValidator([]byte("test-secret"))

	_, err := v.Validate("")
	require.Error(t, err)

	_, err = v.Validate("not-a-jwt")
	require.Error(t, err)
}

func TestTokenValidatorRejectsWrongSecret(t *testing.T) {
	v := wire.NewTokenValidator([]byte("right-secret"))

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "endpoint-a"})
	signed, err := tok.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = v.Validate(signed)
	require.Error(t, err)
}
