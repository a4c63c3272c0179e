// Package progress defines primitives for reporting and aggregating the
// progress of actions executed on behalf of an agent session.  It abstracts
// away the delivery mechanism so that callers can consume counter updates in
// a uniform way regardless of whether they are observed in-process or
// forwarded to external observers.
package progress
