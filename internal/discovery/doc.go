// Package discovery advertises this device and finds peers on the local
// network over mDNS/DNS-SD.
//
// Advertising and scanning are independent state machines, each moving
// between idle and active. Sightings only mutate the PeerTable; they never
// touch the document. Scanning re-browses every half TTL; peers not seen
// again within their TTL expire.
package discovery
