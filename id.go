package jobrunr

import "github.com/daniiell3/jobrunr/id"

// ID is the primary identifier type for all jobrunr entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
