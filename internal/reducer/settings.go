package reducer

import (
	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/value"
)

// settings handles settings.updated. The payload is either {key, value}
// or {values: {key: value, ...}}; a null value removes the key.
func (r reduction) settings() (*domain.Document, error) {
	if r.ev.Type != event.SettingsUpdated {
		return nil, unknownEventType(r.ev.Type)
	}

	updates := map[string]value.Value{}
	if raw, ok := r.ev.Payload["values"]; ok {
		obj, ok := raw.(value.Object)
		if !ok {
			return nil, validationError("", "", "values", "values must be an object")
		}
		for k, v := range obj {
			updates[k] = v
		}
	}
	if raw, ok := r.ev.Payload["key"]; ok {
		key, ok := raw.(value.String)
		if !ok || key == "" {
			return nil, validationError("", "", "key", "key must be a non-empty string")
		}
		v, ok := r.ev.Payload["value"]
		if !ok {
			return nil, validationError("", string(key), "value", "value is required")
		}
		updates[string(key)] = v
	}
	if len(updates) == 0 {
		return nil, validationError("", "", "key", "settings.updated needs a key or values")
	}

	doc := r.doc
	for _, k := range value.Object(updates).SortedKeys() {
		if k == "" {
			return nil, validationError("", "", "values", "setting keys must be non-empty")
		}
		v := updates[k]
		if _, isNull := v.(value.Null); isNull || v == nil {
			doc = doc.DeleteSetting(k)
			continue
		}
		doc = doc.PutSetting(k, v)
	}
	return doc, nil
}
