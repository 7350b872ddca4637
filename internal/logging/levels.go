package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. The learning orchestrator logs each
// retrieved skill and its matched terms at this level.
const TraceLevel = zapcore.DebugLevel - 1

var levelAliases = map[string]zapcore.Level{
	"trace":   TraceLevel,
	"warning": zapcore.WarnLevel,
	"err":     zapcore.ErrorLevel,
}

// LevelFromString parses a level name. An empty name means info.
func LevelFromString(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if l, ok := levelAliases[name]; ok {
		return l, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// encodeLevel writes TraceLevel as "trace" and defers to zap otherwise.
func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("trace")
		return
	}
	zapcore.LowercaseLevelEncoder(l, enc)
}
