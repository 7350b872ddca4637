// Package logging is the zap setup shared by every skillloop command.
//
// A Logger takes a context on each call and prepends the loop, iteration,
// session and trace identifiers stored in it, so a single loop can be
// followed across the controller, the learning step and the review bus:
//
//	ctx = logging.WithLoopID(ctx, run.ID)
//	logger.Info(ctx, "iteration recorded", zap.Float64("quality", 82.5))
//
// Console output is JSON on stderr by default. Keys that look like
// credentials are masked and configured value patterns are cut out of both
// field values and messages before they reach the terminal. Entries below
// Error are sampled; errors always pass. With output.otel enabled the same
// entries are bridged to the telemetry log provider through otelzap.
//
// Packages that accept a plain *zap.Logger are handed Logger.Underlying.
// Tests use NewTestLogger, which keeps every entry in memory.
package logging
