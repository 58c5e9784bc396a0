package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
)

// sensitiveKeys holds normalized field names (lowercase, no separators)
// that never reach the trail in clear.
var sensitiveKeys = map[string]struct{}{
	"password":          {},
	"passwordhash":      {},
	"plaintextpassword": {},
	"token":             {},
	"accesstoken":       {},
	"secret":            {},
	"secretkey":         {},
	"recordkey":         {},
	"ciphertext":        {},
	"nonce":             {},
	"authtag":           {},
	"content":           {},
	"plaintext":         {},
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

// IsSensitive reports whether a payload field named key must be redacted.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[normalizeKey(key)]
	return ok
}

// RedactFields returns a shallow copy of fields in which every sensitive
// top-level key holds common.RedactedValue. Nested values are copied as is
// and fields itself is left untouched.
func RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if IsSensitive(k) {
			out[k] = common.RedactedValue
			continue
		}
		out[k] = v
	}
	return out
}

// Encode redacts s and serializes it for storage. A nil state encodes to
// nil. The key-based pass runs after the type's own Redact so a payload
// type that forgets a field is still covered.
func Encode(s State) (json.RawMessage, error) {
	if s == nil {
		return nil, nil
	}

	raw, err := json.Marshal(s.Redact())
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("state is not an object: %w", err)
	}

	out, err := json.Marshal(RedactFields(fields))
	if err != nil {
		return nil, fmt.Errorf("marshal redacted state: %w", err)
	}
	return out, nil
}
