// Package event defines the immutable, typed records that describe a single
// intended change to the document.
//
// Events are the sole write primitive. Every event type belongs to exactly
// one Family, and the set of types is closed: the dispatcher switches over
// Family and each reducer switches over its Types, so adding a type means
// adding a case in exactly one reducer.
//
// Ordering:
//   - ID is unique per originating device (device id + local clock + counter)
//   - Timestamp orders events for merge and for "latest edit wins" fields
//   - The total merge order is (Timestamp, ID) with ID compared bytewise
package event
