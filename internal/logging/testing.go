package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger keeps every entry from Trace up in memory. Entries are not
// scrubbed, so AssertNoSecrets sees exactly what callers passed in.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry { return t.logs.All() }

func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.logs.FilterMessage(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() { t.logs.TakeAll() }

// Messages lists the messages logged at level, in order.
func (t *TestLogger) Messages(level zapcore.Level) []string {
	var out []string
	for _, e := range t.logs.FilterLevelExact(level).All() {
		out = append(out, e.Message)
	}
	return out
}

// AssertLogged fails tb unless an entry at level has msgContains in its
// message.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, m := range t.Messages(level) {
		if strings.Contains(m, msgContains) {
			return
		}
	}
	tb.Errorf("no %s entry containing %q; got %q", level, msgContains, t.Messages(level))
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, m := range t.Messages(level) {
		if strings.Contains(m, msgContains) {
			tb.Errorf("unexpected %s entry %q", level, m)
		}
	}
}

// AssertField fails tb unless some entry with message msg carries key=want.
// Integer fields compare as int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	var seen []any
	for _, e := range t.logs.FilterMessage(msg).All() {
		got, ok := e.ContextMap()[key]
		if !ok {
			continue
		}
		if reflect.DeepEqual(got, want) {
			return
		}
		seen = append(seen, got)
	}
	tb.Errorf("entry %q: field %q want %v, saw %v", msg, key, want, seen)
}

// AssertNoSecrets fails tb when a message or string field would have been
// masked by the default console redaction rules.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	rules, err := compileScrubRules(NewDefaultConfig().Redaction)
	if err != nil {
		tb.Fatalf("default redaction rules: %v", err)
		return
	}
	for _, e := range t.logs.All() {
		if rules.scrubValue(e.Message) != e.Message {
			tb.Errorf("credential in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			if rules.sensitiveKey(f.Key) || rules.scrubValue(f.String) != f.String {
				tb.Errorf("credential in field %q", f.Key)
			}
		}
	}
}
