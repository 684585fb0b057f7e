// Package broadcast delivers a templated announcement to every guild that has
// a main channel configured and reports which deliveries failed.
//
// A run never stops on a single failed target: every target is attempted
// (subject to the caller's context) and the outcome of each one is folded,
// in target order, into an immutable Report.
package broadcast
