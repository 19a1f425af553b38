package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Action is an ephemeral, untrusted command parsed from a model reply.
// It is consumed exactly once by the dispatcher and never stored. Payload
// fields stay schemaless because the model is free to omit or mistype them;
// the typed getters below do the coercion.
type Action struct {
	Type   string
	Fields map[string]interface{}
}

// Str returns the first present field as a trimmed string.
// Numbers are formatted, everything else yields "".
func (a Action) Str(keys ...string) string {
	for _, k := range keys {
		v, ok := a.Fields[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return strings.TrimSpace(t)
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		default:
			return strings.TrimSpace(fmt.Sprintf("%v", t))
		}
	}
	return ""
}

// Float returns the first present field coerced to float64.
func (a Action) Float(keys ...string) float64 {
	for _, k := range keys {
		v, ok := a.Fields[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		}
	}
	return 0
}

// Int returns the first present field coerced to int.
func (a Action) Int(keys ...string) int {
	return int(a.Float(keys...))
}

// Bool returns the first present field coerced to bool.
func (a Action) Bool(keys ...string) bool {
	for _, k := range keys {
		v, ok := a.Fields[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t
		case string:
			s := strings.ToLower(strings.TrimSpace(t))
			return s == "true" || s == "yes" || s == "accept" || s == "accepted"
		}
	}
	return false
}

// Raw returns the action re-encoded as JSON, for diagnostic fallbacks.
func (a Action) Raw() string {
	m := make(map[string]interface{}, len(a.Fields)+1)
	for k, v := range a.Fields {
		m[k] = v
	}
	m["type"] = a.Type
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("{\"type\":%q}", a.Type)
	}
	return string(b)
}

// ModelReply is the decoded wire object the model must produce: an ordered
// action list plus relationship adjustments.
type ModelReply struct {
	Actions []Action
	Deltas  []RelationshipDelta
}

// PromptMessage is one entry of the message payload handed to the LLM.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
