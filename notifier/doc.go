// Package notifier fans out storage change notifications to dashboard
// and monitoring observers: job stats, individual job updates, and the
// server roster. It is grounded on AbstractStorageProvider's
// SendJobStatsUpdate timer task (3s initial delay, 5s period, three
// listener kinds run in sequence) with golang.org/x/time/rate supplying
// the stats throttle in place of a hand-rolled rate limiter. The timer
// starts lazily on first listener registration, guarded by a
// non-blocking CompareAndSwap so a second registration racing the first
// never double-schedules it, and stops once the last listener of any
// kind is removed.
package notifier
