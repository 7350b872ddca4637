// Package loop drives the generate, assess and improve cycle.
//
// A Controller invokes an external Performer once per iteration, scores the
// returned evidence with a quality.Assessor and decides after every
// iteration whether to stop. The checks run in a fixed order:
//
//  1. quality met: the assessment passed
//  2. oscillation: recent scores alternate up and down
//  3. stagnation: recent scores stay within a narrow band
//  4. insufficient improvement: the last step gained too little
//
// A run also stops at the wall-clock timeout (checked between iterations),
// when the performer fails, or after the configured number of iterations.
// That number can never exceed HardMaxIterations; larger requests are
// clamped when the Controller is built.
//
// Iterations that do not end the run may emit a review.Signal. A reviewer's
// result, if it arrives before the next iteration starts, is merged into
// the next iteration's improvement list.
//
// Run never fails. Every outcome, including performer errors and timeouts,
// is a Result carrying the partial history.
package loop
