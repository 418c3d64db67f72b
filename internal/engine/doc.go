// Package engine implements the galed requirement store and proposal engine.
//
// The engine holds one project's requirements, their fields and trace edges,
// and the ledger of every proposal ever made against them.
//
// ARCHITECTURE:
//
// Single-Writer Mutation Path:
// All mutations (field writes, lock changes, proposal open/accept/reject,
// edge insertion, removal) are serialized through one write lock. Each
// mutation stages its effects in a copy-on-write transaction, checks its
// invariants, and then either commits everything or returns an *Error and
// leaves the store untouched. Reads take the read lock and may run in
// parallel.
//
// Governed Fields:
// OPEN fields accept direct writes. LOCKED_HUMAN and LOCKED_AI fields only
// change through an accepted proposal. Who may lock, unlock and resolve is
// looked up per (domain, field category) in a rules.RuleSet.
//
// Conflicts Are Data:
// Opening a proposal runs the conflict detector. Value, policy and
// cross-requirement conflicts move the proposals involved to CONFLICTING and
// are recorded on them; they are never returned as errors and never resolved
// by precedence.
//
// Impact:
// Accepting a proposal flags every requirement that transitively depends on
// the changed one as needs_review, using the same reachability primitive the
// graph uses for cycle detection.
//
// Events:
// Every committed mutation produces ir.Events stamped from a logical Clock.
// The engine does no I/O; callers drain events with DrainEvents and hand
// them to the journal and metrics.
package engine
