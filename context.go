package jobrunr

import "context"

// Context is the execution context for job handlers. It is a plain
// alias for context.Context; multi-tenant scope is carried on it via
// scope.Restore/scope.Capture.
type Context = context.Context
