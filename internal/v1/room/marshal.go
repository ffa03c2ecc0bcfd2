package room

import "encoding/json"

// marshalFlattened renders payload's fields alongside a "type" discriminant
// in one flat JSON object, matching the gateway's server-event envelope.
func marshalFlattened(typ string, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}
	typeRaw, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeRaw
	return json.Marshal(fields)
}
