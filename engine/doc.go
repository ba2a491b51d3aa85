// Package engine wires all conversion subsystems together. It creates
// the hook registry, stream broker, callback notifier, middleware
// chain, and worker pool, and provides the Submit/Job/Subscribe
// operations the transport layer builds on.
//
// This package exists to break the import cycle: the root ppt2img
// package defines Entity and Config (imported by job, store, etc.) and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine
