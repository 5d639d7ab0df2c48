// Package domain holds the materialized document and its entity types.
//
// A Document is immutable. Every Put/Delete method returns a new Document
// that shares unchanged structure with the receiver; the receiver itself is
// never modified, so a published *Document may be read from any goroutine
// without locking.
//
// Documents carry no validation logic. Referential invariants (every
// account has an organization, a linked account cannot be deleted, ...)
// are enforced by the reducers before they call into this package. The
// secondary indexes maintained here exist so those checks stay O(log n).
package domain
