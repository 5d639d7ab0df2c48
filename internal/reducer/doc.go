// Package reducer applies events to documents.
//
// Every reducer is a pure function of (document, event): it either returns
// a new document or a *Error describing the violated invariant. The input
// document is never modified. The Dispatcher routes an event to its family
// reducer by event.Family and each family reducer switches on the closed
// set of event.Type values it owns.
package reducer
