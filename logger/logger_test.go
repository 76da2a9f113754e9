package logger

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWrapperFields(t *testing.T) {
	var captured []LogPayload
	fn := func(payload LogPayload) {
		captured = append(captured, payload)
	}

	base := NewLogWrapper(fn, map[string]interface{}{"connection_id": "abc"})
	child := base.WithField("operation_id", "1")
	child.Infof("started %s", "op")

	require.Len(t, captured, 1)
	assert.Equal(t, InfoLevel, captured[0].Level)
	assert.Equal(t, "started op", captured[0].Message)
	assert.Equal(t, "abc", captured[0].Fields["connection_id"])
	assert.Equal(t, "1", captured[0].Fields["operation_id"])

	// parent wrapper must not see the child's field
	assert.NotContains(t, base.Fields, "operation_id")
}

func TestLogWrapperWithError(t *testing.T) {
	var captured []LogPayload
	fn := func(payload LogPayload) {
		captured = append(captured, payload)
	}

	boom := fmt.Errorf("boom")
	NewLogWrapper(fn, nil).WithError(boom).Errorf("failed")

	require.Len(t, captured, 1)
	assert.Equal(t, ErrorLevel, captured[0].Level)
	assert.Same(t, boom, captured[0].Error)
}

func TestLogWrapperNilFunc(t *testing.T) {
	l := NewLogWrapper(nil, nil)
	assert.NotPanics(t, func() {
		l.Debugf("dropped")
	})
}

func TestLogWrapperLevels(t *testing.T) {
	var levels []Level
	fn := func(payload LogPayload) {
		levels = append(levels, payload.Level)
	}

	l := NewLogWrapper(fn, nil)
	l.Tracef("t")
	l.Debugf("d")
	l.Infof("i")
	l.Warnf("w")
	l.Errorf("e")

	assert.Equal(t, []Level{TraceLevel, DebugLevel, InfoLevel, WarnLevel, ErrorLevel}, levels)
}

func TestLogrusLogFunc(t *testing.T) {
	ll, hook := logrustest.NewNullLogger()
	ll.SetLevel(logrus.DebugLevel)

	l := NewLogWrapper(NewLogrusLogFunc(ll), map[string]interface{}{"subprotocol": "graphql-transport-ws"})
	l.Warnf("slow client")
	l.WithError(fmt.Errorf("eof")).Errorf("read failed")
	l.Tracef("fine grained")

	entries := hook.AllEntries()
	require.Len(t, entries, 3)

	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "slow client", entries[0].Message)
	assert.Equal(t, "graphql-transport-ws", entries[0].Data["subprotocol"])

	assert.Equal(t, logrus.ErrorLevel, entries[1].Level)
	require.Contains(t, entries[1].Data, logrus.ErrorKey)

	// trace folds into debug
	assert.Equal(t, logrus.DebugLevel, entries[2].Level)
}

func TestSlogLogFunc(t *testing.T) {
	var buf bytes.Buffer
	sl := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	l := NewLogWrapper(NewSlogLogFunc(sl), map[string]interface{}{"connection_id": "c1"})
	l.Infof("accepted")

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "msg=accepted")
	assert.Contains(t, out, "connection_id=c1")
}
