// Package election computes which server is master from the live
// roster, re-deriving the answer on every call rather than granting a
// lease. This replaces the teacher's TTL-lease AcquireLeadership/
// RenewLeadership pattern, which elected whoever renewed fastest — a
// liveness race under clock skew. Election instead mirrors
// spec's literal rule: among servers whose LastHeartbeat is within the
// liveness threshold, the one with the earliest FirstHeartbeat is
// master, ties broken by ID ordering. Because every server reads the
// same roster and re-evaluates every tick, there is never more than one
// master per instant without any single store call owning the answer.
package election
