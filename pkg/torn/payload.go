package torn

import "encoding/json"

// rawBodyLimit bounds the prefix of an unparseable response body kept in the
// fallback envelope.
const rawBodyLimit = 500

// Payload is a decoded API response. The upstream returns JSON objects;
// anything else is wrapped in a {"raw": ...} fallback envelope.
type Payload map[string]any

// APIError is the application-level error object the upstream may embed in a
// payload, even under HTTP 200.
type APIError struct {
	Code    int
	Message string
}

// Err returns the embedded error object, or nil if the payload carries none.
func (p Payload) Err() *APIError {
	raw, ok := p["error"].(map[string]any)
	if !ok {
		return nil
	}
	e := &APIError{}
	if code, ok := raw["code"].(float64); ok {
		e.Code = int(code)
	}
	if msg, ok := raw["error"].(string); ok {
		e.Message = msg
	}
	return e
}

// Map walks nested objects by key. Returns nil if any step is missing or not
// an object.
func (p Payload) Map(keys ...string) map[string]any {
	cur := map[string]any(p)
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// Float walks nested objects and returns the leaf as a float64.
func (p Payload) Float(keys ...string) (float64, bool) {
	if len(keys) == 0 {
		return 0, false
	}
	parent := map[string]any(p)
	if len(keys) > 1 {
		parent = p.Map(keys[:len(keys)-1]...)
		if parent == nil {
			return 0, false
		}
	}
	v, ok := parent[keys[len(keys)-1]].(float64)
	return v, ok
}

// decodePayload parses body as a JSON object. Unparseable or non-object
// bodies are wrapped so callers always get a Payload to inspect.
func decodePayload(body []byte) Payload {
	var p Payload
	if err := json.Unmarshal(body, &p); err == nil && p != nil {
		return p
	}
	raw := string(body)
	if len(raw) > rawBodyLimit {
		raw = raw[:rawBodyLimit]
	}
	return Payload{"raw": raw}
}
