// Package learning wraps a loop controller with skill learning.
//
// An Orchestrator run:
//
//  1. detects the task domain (keywords, then file extensions, then "general")
//  2. retrieves relevant learned skills and injects them as hints
//  3. runs the loop controller
//  4. records one feedback entry per iteration
//  5. extracts and saves a skill when the run met its quality target,
//     auto-promoting it when configured and the gate agrees
//  6. records an application for every injected skill
//
// Learning failures never change the loop result. They are logged and
// collected in Outcome.LearningErrors.
package learning
