package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/crmorbit/internal/domain"
)

// evaluateAssertions checks every assertion and records failures in
// result.
func evaluateAssertions(h *Harness, assertions []Assertion, result *Result) error {
	tables := make(map[string]map[string][]map[string]any, len(h.order))
	for _, id := range h.order {
		t, err := snapshotTables(h.devices[id].Document())
		if err != nil {
			return fmt.Errorf("snapshot device %s: %w", id, err)
		}
		tables[id] = t
	}

	for i, a := range assertions {
		if a.Type == AssertConverged {
			checkConverged(i, h.order, result)
			continue
		}
		devices := h.order
		if a.Device != "" {
			devices = []string{a.Device}
		}
		for _, dev := range devices {
			rows, ok := tables[dev][a.Table]
			if !ok {
				result.AddError("assertions[%d]: %s: unknown table %q", i, dev, a.Table)
				continue
			}
			checkRows(i, dev, a, rows, result)
		}
	}
	return nil
}

func checkConverged(i int, devices []string, result *Result) {
	first := result.Hashes[devices[0]]
	for _, dev := range devices[1:] {
		if result.Hashes[dev] != first {
			result.AddError("assertions[%d]: %s and %s diverged", i, devices[0], dev)
		}
	}
}

func checkRows(i int, dev string, a Assertion, rows []map[string]any, result *Result) {
	switch a.Type {
	case AssertCount:
		if len(rows) != a.Count {
			result.AddError("assertions[%d]: %s: %s has %d rows, expected %d", i, dev, a.Table, len(rows), a.Count)
		}
	case AssertAbsent:
		if row := findRow(rows, a.ID); row != nil {
			result.AddError("assertions[%d]: %s: %s/%s exists", i, dev, a.Table, a.ID)
		}
	case AssertField:
		row := findRow(rows, a.ID)
		if row == nil {
			result.AddError("assertions[%d]: %s: %s/%s not found", i, dev, a.Table, a.ID)
			return
		}
		got, ok := row[a.Field]
		if !ok {
			result.AddError("assertions[%d]: %s: %s/%s has no field %q", i, dev, a.Table, a.ID, a.Field)
			return
		}
		if !valuesMatch(got, a.Equals) {
			result.AddError("assertions[%d]: %s: %s/%s.%s = %v, expected %v", i, dev, a.Table, a.ID, a.Field, got, a.Equals)
		}
	}
}

func findRow(rows []map[string]any, id string) map[string]any {
	i := slices.IndexFunc(rows, func(r map[string]any) bool { return r["id"] == id })
	if i < 0 {
		return nil
	}
	return rows[i]
}

// valuesMatch compares a decoded snapshot value with a YAML value by their
// formatted text, so 3, json.Number("3") and "3" all match.
func valuesMatch(got, want any) bool {
	return fmt.Sprint(got) == fmt.Sprint(want)
}

// snapshotTables flattens a document snapshot into rows per table. The
// relation tables are addressed by their own names.
func snapshotTables(doc *domain.Document) (map[string][]map[string]any, error) {
	data, err := json.Marshal(doc.Snapshot())
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if rel, ok := raw["relations"]; ok {
		delete(raw, "relations")
		var relations map[string]json.RawMessage
		if err := json.Unmarshal(rel, &relations); err != nil {
			return nil, err
		}
		for k, v := range relations {
			raw[k] = v
		}
	}
	delete(raw, "settings")

	tables := make(map[string][]map[string]any, len(raw))
	for name, msg := range raw {
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var rows []map[string]any
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		tables[name] = rows
	}
	return tables, nil
}
