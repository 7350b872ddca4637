// Package review carries the conversation between an improvement loop and an
// external reviewer.
//
// The loop emits Signals: a review request after an iteration that did not
// meet the quality bar, a final validation request once it does, and a debug
// request when the score history oscillates or stagnates. Reviewers answer
// with a Result listing findings by severity. Results reach the loop through
// an Inbox, which may be fed in-process or over NATS (Bus). The HTTP and MCP
// surfaces work against a Desk; backed by a Bus, they see signals from loops
// in other processes and forward submitted results back to them.
//
// MergeImprovements folds findings into the next iteration's improvement
// list: critical and high findings are prepended, medium findings appended,
// duplicates dropped and the list capped at MaxImprovements.
package review
