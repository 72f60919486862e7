package compression

import (
	"encoding/json"
	"fmt"
)

// shortKeys maps frequent JSON object keys to abbreviations.
var shortKeys = map[string]string{
	"kind":         "k",
	"payload":      "p",
	"priority":     "pr",
	"enqueued_at":  "t",
	"id":           "i",
	"recipient":    "r",
	"attempts":     "a",
	"type":         "ty",
	"message":      "m",
	"timestamp":    "ts",
	"data":         "d",
	"user_id":      "u",
	"notification": "n",
}

var longKeys = func() map[string]string {
	m := make(map[string]string, len(shortKeys))
	for long, short := range shortKeys {
		m[short] = long
	}
	return m
}()

// KeyShortener rewrites well-known JSON object keys to short aliases.
// It only round-trips documents that do not already use the aliases as keys.
type KeyShortener struct{}

func (KeyShortener) Name() string { return CodecKeys }

func (KeyShortener) Compress(src []byte) ([]byte, error) {
	return rewriteKeys(src, shortKeys)
}

func (KeyShortener) Decompress(src []byte) ([]byte, error) {
	return rewriteKeys(src, longKeys)
}

func rewriteKeys(src []byte, table map[string]string) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return json.Marshal(renameKeys(doc, table))
}

func renameKeys(v any, table map[string]string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if alias, ok := table[k]; ok {
				k = alias
			}
			out[k] = renameKeys(val, table)
		}
		return out
	case []any:
		for i := range t {
			t[i] = renameKeys(t[i], table)
		}
		return t
	default:
		return v
	}
}
