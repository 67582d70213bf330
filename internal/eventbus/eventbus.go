// Package eventbus implements one concrete adapter-channel transport
// for the Endpoint Registry (spec §4.3): an endpoint bound to a
// RabbitMQ channel rather than an inline handler, carrying
// admitted-action envelopes msgpack-encoded (spec §10 domain stack).
package eventbus

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/stemrun/stemcore/internal/errs"
	"github.com/stemrun/stemcore/internal/mlog"
	"github.com/stemrun/stemcore/internal/spine"
)

// Hub lazily connects to RabbitMQ (teacher connection-hub shape).
type Hub struct {
	URL    string
	logger mlog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewHub(url string, logger mlog.Logger) *Hub {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	return &Hub{URL: url, logger: logger}
}

func (h *Hub) channel() (*amqp.Channel, error) {
	if h.ch != nil && !h.ch.IsClosed() {
		return h.ch, nil
	}

	conn, err := amqp.Dial(h.URL)
	if err != nil {
		return nil, errs.BackendTransientError{Code: "amqp_dial_failed", Message: "could not connect to rabbitmq", Err: err, Retryable: true}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errs.BackendTransientError{Code: "amqp_channel_failed", Message: "could not open rabbitmq channel", Err: err, Retryable: true}
	}

	h.conn = conn
	h.ch = ch

	return ch, nil
}

// AdmittedActionEnvelope is the msgpack-encoded payload published to
// a RabbitMQ-backed adapter-channel endpoint.
type AdmittedActionEnvelope struct {
	ActionID          string `msgpack:"action_id"`
	CapabilityID      string `msgpack:"capability_id"`
	NormalizedPayload any    `msgpack:"normalized_payload"`
	ReservedCostMicro int64  `msgpack:"reserved_cost_micro"`
}

// Endpoint publishes admitted actions onto queueName with replyQueue
// as their reply-to address, satisfying spine.Endpoint (spec §4.3
// "adapter-channel"). It does not wait for a reply: every successful
// publish is reported as Deferred.
type Endpoint struct {
	hub         *Hub
	queueName   string
	replyQueue  string
	publishWait time.Duration
}

func NewEndpoint(hub *Hub, queueName, replyQueue string) *Endpoint {
	return &Endpoint{hub: hub, queueName: queueName, replyQueue: replyQueue, publishWait: 10 * time.Second}
}

func (e *Endpoint) Invoke(ctx context.Context, action spine.Action) (spine.Outcome, error) {
	ch, err := e.hub.channel()
	if err != nil {
		return spine.Outcome{}, err
	}

	body, err := msgpack.Marshal(AdmittedActionEnvelope{
		ActionID:          action.ActionID,
		CapabilityID:      action.CapabilityID,
		NormalizedPayload: action.NormalizedPayload,
		ReservedCostMicro: action.ReservedCostMicro,
	})
	if err != nil {
		return spine.Outcome{}, errs.ProtocolViolationError{Code: "msgpack_encode_failed", Message: "could not encode admitted action envelope", Err: err}
	}

	pctx, cancel := context.WithTimeout(ctx, e.publishWait)
	defer cancel()

	err = ch.PublishWithContext(pctx, "", e.queueName, false, false, amqp.Publishing{
		ContentType:   "application/msgpack",
		CorrelationId: action.ActionID,
		ReplyTo:       e.replyQueue,
		Body:          body,
	})
	if err != nil {
		return spine.Outcome{}, errs.BackendTransientError{Code: "publish_failed", Message: "could not publish admitted action", Err: err, Retryable: true}
	}

	// A deployed adapter consumes e.replyQueue and correlates by
	// CorrelationId to resolve Applied/Rejected/Deferred; the minimal
	// in-repo transport records the publish itself as Deferred so the
	// spine can proceed without an external consumer running.
	return spine.Outcome{Kind: spine.OutcomeDeferred, ReasonCode: "awaiting_adapter_reply"}, nil
}

// Close tears down the underlying RabbitMQ channel and connection.
func (h *Hub) Close() error {
	if h.ch != nil {
		h.ch.Close()
	}

	if h.conn != nil {
		return h.conn.Close()
	}

	return nil
}
