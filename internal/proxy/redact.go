package proxy

import (
	"encoding/json"
	"strings"
)

var redactKeys = map[string]struct{}{
	"password":         {},
	"api_key":          {},
	"apikey":           {},
	"x-api-key":        {},
	"access_token":     {},
	"private_key":      {},
	"privatekey":       {},
	"secret":           {},
	"signature":        {},
	"paymasteranddata": {},
}

// redactJSON masks credential-like fields of a JSON document for logging.
// Non-JSON input is returned unchanged.
func redactJSON(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}

	b, err := json.Marshal(redactValue(v))
	if err != nil {
		return string(raw)
	}
	return string(b)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			if _, ok := redactKeys[strings.ToLower(k)]; ok {
				out[k] = "***REDACTED***"
				continue
			}
			out[k] = redactValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = redactValue(t[i])
		}
		return out
	default:
		return v
	}
}
