// Package engine owns the live document and its event log.
//
// An Engine is the single writer of a device's state. Every mutation
// (local dispatch, sync merge, backup restore) takes the engine's write
// lock, updates the durable log and then publishes the new document
// through an atomic pointer. Readers never block: Document and Events
// return the last published state.
//
// # Ordering
//
// The document is always the replay of the log sorted by (timestamp, id).
// Locally dispatched events that sort after the current head are applied
// incrementally. An event that would sort before the head (the device
// clock is behind a merged peer event) triggers a full replay so the
// published document still equals a fresh replay of the log.
//
// # Rejections
//
// Dispatch is strict: an event the reducers reject is returned as an error
// and never logged. An out-of-order event that would make the replay reject
// events already in the log fails with DEPENDENCY_EXISTS naming them. Merge
// and Open are lenient: rejected events stay in the log and are reported,
// matching the merge package.
package engine
