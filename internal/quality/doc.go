// Package quality converts iteration evidence into a bounded quality score.
//
// An Assessment is produced from Evidence (file changes, test results and
// lint results) by additive scoring capped at 100:
//
//   - 30 points when any file changed
//   - 25 points when tests ran, plus 20 when none failed or 15 when at
//     least 90% passed
//   - 15 points when lint ran clean
//   - up to 10 points of coverage bonus when tests ran
//
// Scoring can be delegated to an external process through ProcessScorer.
// The Assessor never fails: an unavailable external scorer falls back to
// LocalScorer, and a scorer that times out, errors or prints garbage yields
// a zero-score assessment describing the failure.
package quality
