// internal/transform/decode.go
package transform

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

type variantKind int

const (
	plainText variantKind = iota
	envelope
	unparseable
)

// variant is a stored message payload classified by shape.
type variant struct {
	kind variantKind
	text string
	env  envelopeFields
}

// envelopeFields are the keys of an object payload. Raw values are kept so
// each field can be interpreted on its own terms.
type envelopeFields struct {
	Type             json.RawMessage `json:"type"`
	Content          json.RawMessage `json:"content"`
	AdditionalKwargs json.RawMessage `json:"additional_kwargs"`
	ResponseMetadata json.RawMessage `json:"response_metadata"`
	ToolCalls        json.RawMessage `json:"tool_calls"`
	InvalidToolCalls json.RawMessage `json:"invalid_tool_calls"`
}

func decode(raw json.RawMessage) variant {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return variant{kind: unparseable}
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return variant{kind: unparseable}
		}
		return variant{kind: plainText, text: s}
	case '{':
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return variant{kind: unparseable}
		}
		_, hasType := keys["type"]
		_, hasContent := keys["content"]
		if !hasType || !hasContent {
			return variant{kind: unparseable}
		}
		var env envelopeFields
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return variant{kind: unparseable}
		}
		return variant{kind: envelope, env: env}
	default:
		return variant{kind: unparseable}
	}
}

// stringValue reports the decoded string when raw is a JSON string.
func stringValue(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

// isFalsy reports whether raw is absent or one of the empty JSON scalars.
func isFalsy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`, "false", "0":
		return true
	}
	return false
}

// lenientInt decodes an integral number, or a string holding one. Anything
// else is reported as absent.
func lenientInt(raw json.RawMessage) *int {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if s, ok := stringValue(trimmed); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil
		}
		return &n
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(f)
	return &n
}

// lenientString decodes strings as-is and numbers in their JSON spelling.
func lenientString(raw json.RawMessage) string {
	if s, ok := stringValue(raw); ok {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		return n.String()
	}
	return ""
}

// lenientArray decodes a JSON array into its raw elements; non-arrays are nil.
func lenientArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}
	return items, true
}
