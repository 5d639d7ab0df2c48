// Package syncer exchanges event logs with peers and merges them into the
// local engine.
//
// A sync session is one transport exchange. The initiator sends a batch
// envelope holding its whole log; the responder merges it and answers with
// a batch holding its post-merge log, which the initiator merges in turn.
// After one successful session both devices hold the same event set and
// therefore the same document. A request envelope pulls without pushing.
//
// Nothing is merged until a complete, well-formed response envelope has
// been received.
package syncer
