package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-suite/core/internal/reqctx"
)

type captureConn struct {
	msgs []*nats.Msg
	err  error
}

func (c *captureConn) PublishMsg(msg *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestNATSPublisherPublish(t *testing.T) {
	conn := &captureConn{}
	p := newNATSPublisher(conn, "workflow")

	ctx := reqctx.WithCorrelationID(context.Background(), "corr-42")
	ctx = reqctx.WithUserID(ctx, "alice")
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	err := p.Publish(ctx, Event{
		Type:       ApprovalResolved,
		EntityID:   "req-1",
		OccurredAt: at,
		Data:       map[string]string{"status": "approved"},
	})
	require.NoError(t, err)
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	assert.Equal(t, "workflow.approval.resolved", msg.Subject)
	assert.Equal(t, "corr-42", msg.Header.Get(reqctx.CorrelationHeader))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, ApprovalResolved, decoded.Type)
	assert.Equal(t, "req-1", decoded.EntityID)
	assert.Equal(t, "alice", decoded.Actor)
	assert.True(t, at.Equal(decoded.OccurredAt))
}

func TestNATSPublisherPropagatesErrors(t *testing.T) {
	p := newNATSPublisher(&captureConn{err: nats.ErrConnectionClosed}, "workflow")

	err := p.Publish(context.Background(), Event{Type: InstanceStarted, EntityID: "i-1"})
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))
}

func TestSubjectWithoutPrefix(t *testing.T) {
	p := newNATSPublisher(&captureConn{}, "")
	assert.Equal(t, "instance.cancelled", p.Subject(InstanceCancelled))
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), Event{Type: InstanceStarted}))
}
