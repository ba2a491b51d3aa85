// Package job defines the conversion job entity, its state machine, and
// the store interface.
//
// # Job Entity
//
// A [Job] represents one presentation-to-image conversion. It embeds
// [ppt2img.Entity] for timestamps, carries the source deck (an uploaded
// file path or a remote URL), render parameters, and progresses through
// a state machine:
//
//	created → queued → processing → completed
//	created → queued → processing → failed
//
// Completed and failed are terminal; no transition leaves them. The
// created state is momentary: admission moves a job to queued in the
// same store operation that persists it, so an observer never reads a
// stored job in created state.
//
// Fields of note:
//   - Source: where the deck comes from (URL or local upload path)
//   - Width / Height: render dimensions in pixels
//   - CallbackURL: optional HTTP endpoint notified on terminal states
//   - Progress: 0-100, monotonically non-decreasing while processing
//   - Result: per-slide artifacts, populated only on completion
//
// # Store
//
// [Store] is the persistence contract. Admission, dequeue, progress,
// and terminal transitions are all store operations so that every
// backend enforces the state machine and the active-job limit
// atomically. See store/memory and store/redis for implementations.
package job
