// Package storage keeps the optional operator audit trail: who started,
// stopped or retimed a counter, and when a run finished. Counter state itself
// is never persisted.
package storage
