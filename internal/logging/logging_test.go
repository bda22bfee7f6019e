package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.Error(t, (&Config{Level: "loud", Format: "json"}).Validate())
	assert.Error(t, (&Config{Level: "info", Format: "xml"}).Validate())
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&Config{Level: "info", Format: "json", Fields: map[string]string{"service": "mailgate"}}, &buf)
	require.NoError(t, err)

	l.Debug(context.Background(), "hidden")
	l.Info(WithRun(context.Background(), "run-1", "trace-1"), "hello", zap.Int("n", 3))
	require.NoError(t, l.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1, "debug must be filtered at info level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "run-1", entry["run.id"])
	assert.Equal(t, "trace-1", entry["trace.id"])
	assert.Equal(t, "mailgate", entry["service"])
	assert.EqualValues(t, 3, entry["n"])
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "yaml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestContextFieldsWithoutRun(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	_, ok := RunFromContext(context.Background())
	assert.False(t, ok)
}

func TestEventSinkLevels(t *testing.T) {
	tl := NewTestLogger()
	sink := NewEventSink(tl.Logger)
	ctx := context.Background()
	base := func() map[string]any { return map[string]any{"run_id": "r1", "trace_id": "t1", "state": "Content"} }

	sink.Record(ctx, handoff.StageContent, orchestrator.EventAdvanced, base())
	sink.Record(ctx, handoff.StageContent, orchestrator.EventForced, base())
	failed := base()
	failed["reason"] = "chain broken"
	sink.Record(ctx, handoff.StageDesign, orchestrator.EventFailed, failed)
	sink.Record(ctx, handoff.StageDesign, orchestrator.EventValidated, base())

	tl.AssertLogged(t, zapcore.InfoLevel, orchestrator.EventAdvanced)
	tl.AssertLogged(t, zapcore.WarnLevel, orchestrator.EventForced)
	tl.AssertLogged(t, zapcore.ErrorLevel, orchestrator.EventFailed)
	tl.AssertLogged(t, zapcore.DebugLevel, orchestrator.EventValidated)
	tl.AssertField(t, orchestrator.EventFailed, "reason", "chain broken")
	tl.AssertField(t, orchestrator.EventFailed, "run.id", "r1")
	tl.AssertField(t, orchestrator.EventFailed, "stage", "Design")
	assert.Len(t, tl.All(), 4)
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info(context.Background(), "discarded")
	assert.False(t, l.Enabled(zapcore.DebugLevel))
	assert.NoError(t, l.Sync())
}
