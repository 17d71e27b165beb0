// Package cronexpr parses cron expressions and computes the next fire
// instant after a given time, in a given time zone.
package cronexpr

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Expression is a parsed, cacheable cron expression paired with the
// time zone it should be evaluated in.
type Expression struct {
	raw      string
	schedule cronlib.Schedule
	loc      *time.Location
}

// Parse parses expr in the given IANA time zone name. An empty zone
// defaults to UTC.
func Parse(expr, zone string) (*Expression, error) {
	loc := time.UTC
	if zone != "" {
		l, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("cronexpr: invalid zone %q: %w", zone, err)
		}
		loc = l
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronexpr: invalid expression %q: %w", expr, err)
	}
	return &Expression{raw: expr, schedule: sched, loc: loc}, nil
}

// String returns the original expression text.
func (e *Expression) String() string { return e.raw }

// NextInstantAfter returns the next instant this expression fires,
// strictly after after, evaluated in the expression's time zone.
func (e *Expression) NextInstantAfter(after time.Time) time.Time {
	return e.schedule.Next(after.In(e.loc)).UTC()
}

// Cache memoizes parsed expressions keyed by "expr|zone", so the
// recurring-job materializer doesn't re-parse on every tick.
type Cache struct {
	mu sync.RWMutex
	m  map[string]*Expression
}

// NewCache returns an empty expression cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string]*Expression)}
}

// Get returns the cached Expression for expr/zone, parsing and caching
// it on first use.
func (c *Cache) Get(expr, zone string) (*Expression, error) {
	key := expr + "|" + zone
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}
	parsed, err := Parse(expr, zone)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.m[key] = parsed
	c.mu.Unlock()
	return parsed, nil
}
