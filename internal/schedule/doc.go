// Package schedule computes when a recurring broadcast is due.
//
// It is pure: no I/O, no clocks of its own. Callers pass the relevant
// "now" or last-send timestamp and get back a concrete due time.
//
// Weekdays are indexed 0=Monday .. 6=Sunday throughout.
package schedule
