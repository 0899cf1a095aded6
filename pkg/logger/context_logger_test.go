package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedContextLogger() (*ContextLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewContextLogger(zap.New(core)), logs
}

func TestContextLoggerTagsDomainIDs(t *testing.T) {
	cl, logs := newObservedContextLogger()

	ctx := context.Background()
	ctx = WithRoomID(ctx, "room-1")
	ctx = WithStreamID(ctx, "stream-1")
	ctx = WithPeerID(ctx, "peer-1")
	ctx = WithGroupID(ctx, "group-1")

	cl.LogInfo(ctx, "test message")

	require := logs.All()
	assert.Len(t, require, 1)
	fields := require[0].ContextMap()
	assert.Equal(t, "room-1", fields["room_id"])
	assert.Equal(t, "stream-1", fields["stream_id"])
	assert.Equal(t, "peer-1", fields["peer_id"])
	assert.Equal(t, "group-1", fields["group_id"])
}

func TestContextLoggerWithNoIDsAddsNoFields(t *testing.T) {
	cl, logs := newObservedContextLogger()

	cl.LogInfo(context.Background(), "bare message")

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Empty(t, entries[0].ContextMap())
}
