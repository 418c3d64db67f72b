// Package ir provides the canonical data model for galed requirement stores.
//
// This package contains type definitions and value semantics only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - numbers are exact decimals (see Number)
//   - Field values are compared in canonical form, never by Go equality
//   - All JSON tags use snake_case
//   - Proposal IDs and event seqs are logical clocks; wall-clock timestamps
//     are provenance data only and never used for ordering
package ir
