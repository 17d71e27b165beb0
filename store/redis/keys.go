package redis

// Redis key naming conventions for jobrunr data.
// All keys are prefixed with "jobrunr:" to avoid collisions.

const keyPrefix = "jobrunr:"

// ── Job keys ──

// jobKey returns the key for a job's JSON-encoded blob: jobrunr:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobStateKey returns the Sorted Set key indexing jobs currently in
// state, scored by State.At().UnixNano(): jobrunr:jobs:state:{name}
func jobStateKey(state string) string { return keyPrefix + "jobs:state:" + state }

// jobSignatureKey returns the Set key of job IDs sharing a jobSignature:
// jobrunr:jobs:sig:{signature}
func jobSignatureKey(signature string) string { return keyPrefix + "jobs:sig:" + signature }

// jobCountersKey is the Hash mapping StateName to its lifetime counter.
const jobCountersKey = keyPrefix + "jobs:counters"

// ── Recurring job keys ──

// recurringKey returns the key for a recurring job's JSON blob: jobrunr:recurring:{id}
func recurringKey(id string) string { return keyPrefix + "recurring:" + id }

// recurringIDsKey is the Set tracking all recurring job IDs.
const recurringIDsKey = keyPrefix + "recurring:ids"

// ── DLQ keys ──

// dlqKey returns the key for a DLQ entry's JSON blob: jobrunr:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all DLQ entry IDs.
const dlqIDsKey = keyPrefix + "dlq:ids"

// ── Roster keys ──

// serverKey returns the key for an announced server's JSON blob: jobrunr:server:{id}
func serverKey(id string) string { return keyPrefix + "server:" + id }

// serverIDsKey is the Set tracking all announced server IDs.
const serverIDsKey = keyPrefix + "server:ids"
