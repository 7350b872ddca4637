package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger_Assertions(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "sess_1")

	tl.Info(ctx, "skill extracted", zap.String("skill_id", "learned-abc"), zap.Int("patterns", 3))
	tl.Trace(ctx, "skill matched", zap.String("skill_id", "learned-abc"))

	tl.AssertLogged(t, zapcore.InfoLevel, "extracted")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "extracted")
	tl.AssertField(t, "skill extracted", "skill_id", "learned-abc")
	tl.AssertField(t, "skill extracted", "patterns", int64(3))
	tl.AssertField(t, "skill extracted", "session.id", "sess_1")
	tl.AssertNoSecrets(t)
	assert.Equal(t, []string{"skill matched"}, tl.Messages(TraceLevel))

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestTestLogger_AssertNoSecretsDetects(t *testing.T) {
	tests := map[string]func(*TestLogger){
		"bearer in field": func(tl *TestLogger) {
			tl.Info(context.Background(), "calling reviewer", zap.String("header", "Bearer abc.def"))
		},
		"sensitive key": func(tl *TestLogger) {
			tl.Info(context.Background(), "connecting", zap.String("nats_password", "hunter2"))
		},
		"api key in message": func(tl *TestLogger) {
			tl.Warn(context.Background(), "scorer failed: api_key=sk-123")
		},
	}
	for name, emit := range tests {
		t.Run(name, func(t *testing.T) {
			tl := NewTestLogger()
			emit(tl)

			rec := &recordingTB{TB: t}
			tl.AssertNoSecrets(rec)
			assert.Equal(t, 1, rec.errors)
		})
	}
}

type recordingTB struct {
	testing.TB
	errors int
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(string, ...any) { r.errors++ }

func (r *recordingTB) Fatalf(string, ...any) { r.errors++ }
