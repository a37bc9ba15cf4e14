package kv

import "errors"

// ErrNotFound means the requested key or member does not exist. Callers
// generally treat it the same as an empty result, not a failure.
var ErrNotFound = errors.New("kv: not found")

// ErrTransient means the call can be retried; the next natural trigger
// (next heartbeat, next reaper tick) is expected to reconcile state, per
// spec.md §7 kind 4.
var ErrTransient = errors.New("kv: transient")

// ErrFatal means the store call failed in a way that will not resolve on
// retry: the client was closed, or the store sent a malformed reply.
// Connection failures are reported as ErrTransient instead. Callers degrade conservatively rather than
// escalate, per spec.md §7 kind 5.
var ErrFatal = errors.New("kv: fatal")
