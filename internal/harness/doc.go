// Package harness runs conformance scenarios against in-memory engines.
//
// A scenario declares one or more devices, a sequence of steps and a set
// of assertions over the final documents. Each device is an engine backed
// by a fresh store.MemoryLog; all devices share one deterministic clock so
// event ids and timestamps are reproducible.
//
// # Scenario Format
//
//	name: audit_floor_range
//	description: "Completing an audit validates floorsVisited"
//	devices: [dev-a]
//	steps:
//	  - emit: organization.created
//	    entity: org-1
//	    payload: { name: Acme }
//	  - emit: audit.completed
//	    entity: a1
//	    payload: { occurredAt: "2024-03-11T10:00:00Z", floorsVisited: [5] }
//	    expect: VALIDATION
//	  - sync: [dev-a, dev-b]
//	assertions:
//	  - type: field
//	    table: audits
//	    id: a1
//	    field: status
//	    equals: completed
//	  - type: converged
//
// A step either emits one event on a device (the first declared device by
// default) or syncs two devices in both directions. Emit steps expect "ok"
// unless expect names a reducer error code. at sets the shared clock to
// an offset from testutil.Epoch before the event is stamped.
//
// # Assertions
//
//	field      table/id/field compared by formatted value
//	absent     no entity with id in table
//	count      number of rows in table
//	converged  every device holds the same document hash
//
// field, absent and count apply to the named device, or to every device
// when none is named.
//
// # Golden Traces
//
// Every run records one trace line per step plus a final line per device.
// AssertGolden compares the trace with testdata/golden/<name>.golden;
// regenerate with:
//
//	go test ./internal/harness -update
package harness
