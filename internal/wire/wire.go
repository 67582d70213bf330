// Package wire implements the NDJSON-over-Unix-socket transport that
// is the scheduler's observable external contract (spec §6.1): one
// UTF-8 JSON envelope per line, auth/sense/act/act_ack methods.
package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stemrun/stemcore/internal/errs"
)

// Method enumerates the recognized envelope methods (spec §6.1).
type Method string

const (
	MethodAuth   Method = "auth"
	MethodSense  Method = "sense"
	MethodAct    Method = "act"
	MethodActAck Method = "act_ack"
)

// Envelope is the wire-level message shape: {method, id, timestamp, body}.
type Envelope struct {
	Method    Method          `json:"method"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
}

// CapabilityDecl is one capability declared in an auth envelope.
type CapabilityDecl struct {
	Type                     string          `json:"type" validate:"oneof=sense act"`
	EndpointID               string          `json:"endpoint_id" validate:"required"`
	NeuralSignalDescriptorID string          `json:"neural_signal_descriptor_id" validate:"required"`
	PayloadSchema            json.RawMessage `json:"payload_schema"`
}

// AuthBody is the body of an `auth` envelope.
type AuthBody struct {
	EndpointName string           `json:"endpoint_name" validate:"required"`
	Capabilities []CapabilityDecl `json:"capabilities" validate:"dive"`
	Token        string           `json:"token"`
}

// SenseBody is the body of a `sense` envelope.
type SenseBody struct {
	SenseID                  string          `json:"sense_id" validate:"required"`
	NeuralSignalDescriptorID string          `json:"neural_signal_descriptor_id" validate:"required"`
	Payload                  json.RawMessage `json:"payload"`
}

// Act is the payload of an `act` envelope sent server to client.
type Act struct {
	ActID                    string          `json:"act_id"`
	EndpointID               string          `json:"endpoint_id"`
	NeuralSignalDescriptorID string          `json:"neural_signal_descriptor_id"`
	Payload                  json.RawMessage `json:"payload"`
}

// ActAckBody is the body of an `act_ack` envelope.
type ActAckBody struct {
	ActID string `json:"act_id" validate:"required"`
}

// TokenValidator validates the optional bearer token carried in an
// auth envelope before its capabilities are admitted into the
// registry (spec §10 domain stack).
type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret []byte) *TokenValidator {
	return &TokenValidator{secret: secret}
}

// Validate parses and verifies token, returning its subject claim.
func (v *TokenValidator) Validate(token string) (string, error) {
	if token == "" {
		return "", errs.AuthenticationError{Code: "missing_token", Message: "auth envelope carried no token"}
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return "", errs.AuthenticationError{Code: "invalid_token", Message: "bearer token failed validation", Err: err}
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", errs.AuthenticationError{Code: "missing_subject", Message: "token has no subject claim"}
	}

	return sub, nil
}

// Conn wraps one accepted connection's NDJSON framing (spec §6.1
// "empty lines ignored, trailing \r stripped").
type Conn struct {
	raw     net.Conn
	scanner *bufio.Scanner
}

func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, scanner: bufio.NewScanner(raw)}
}

// ReadEnvelope reads the next non-empty line and decodes it. It
// returns io.EOF-wrapping behavior implicitly via scanner exhaustion
// (ok=false, err=nil on clean EOF).
func (c *Conn) ReadEnvelope() (Envelope, bool, error) {
	for c.scanner.Scan() {
		line := strings.TrimSuffix(c.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return Envelope{}, false, errs.ProtocolViolationError{Code: "malformed_envelope", Message: "could not decode NDJSON envelope", Err: err}
		}

		return env, true, nil
	}

	return Envelope{}, false, c.scanner.Err()
}

// WriteEnvelope writes one LF-terminated JSON line.
func (c *Conn) WriteEnvelope(env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	_, err = c.raw.Write(append(raw, '\n'))

	return err
}

func (c *Conn) Close() error { return c.raw.Close() }

// ListenUnix listens on a Unix-domain socket at path, calling handle
// for each accepted connection until ctx is cancelled.
func ListenUnix(ctx context.Context, path string, handle func(ctx context.Context, conn *Conn)) error {
	listener, err := net.Listen("unix", path)
	if err != nil {
		return errs.BackendPermanentError{Code: "listen_failed", Message: "could not listen on unix socket " + path, Err: err}
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		raw, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return errs.BackendTransientError{Code: "accept_failed", Message: "accept failed on unix socket", Err: err, Retryable: true}
		}

		go handle(ctx, NewConn(raw))
	}
}
