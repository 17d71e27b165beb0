// Package concurrency resolves the conflicts a coordinator tick hits
// when its batch save loses to a peer's concurrent write. The teacher's
// in-memory store never needed this — its writes simply overwrote one
// another — so there is no teacher code to generalize here; Resolver is
// built directly from the three-way policy a multi-server coordinator
// needs: some conflicts are safe to re-apply, some invalidate the whole
// tick's decisions, and some indicate corruption worth failing loudly on.
package concurrency
