// Package transport moves opaque sync payloads between two devices.
//
// Every connection carries exactly one request frame and one response
// frame. A frame is a 4-byte big-endian length followed by that many
// payload bytes; frames larger than MaxFrameSize are a protocol violation
// and close the connection.
//
// The transport never interprets payloads. The sync layer owns their
// encoding and supplies the server's Handler.
package transport
