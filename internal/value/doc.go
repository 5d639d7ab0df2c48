// Package value defines the constrained value model carried in event
// payloads and settings, and its RFC 8785 canonical JSON encoding.
//
// Only Null, String, Int, Bool, Array and Object implement Value. There is
// no float type: floats break byte-for-byte replay equality across devices,
// so numbers are always int64.
//
// Canonical encoding is the only serialization used for hashing documents
// and event batches. Two documents materialized from the same ordered event
// list always produce identical canonical bytes.
package value
