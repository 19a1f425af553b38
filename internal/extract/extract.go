// Package extract recovers a parseable JSON object from the noisy text a
// generative model produces. The contract is strict: return a parsed object
// or nil, never panic, never surface an error to the caller. Failures are
// logged with the offending string for diagnostics.
package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"starchat/internal/chat"
	"starchat/internal/logging"
	"starchat/internal/metrics"
)

// Extract returns the first JSON object recoverable from raw, or nil.
// The repair pipeline runs in a fixed order; every stage is idempotent on
// already-clean input, so well-formed replies pay only one strict parse.
func Extract(raw string) map[string]interface{} {
	v := ExtractValue(raw)
	if obj, ok := v.(map[string]interface{}); ok {
		return obj
	}
	return nil
}

// ExtractValue is like Extract but also admits a top-level array.
func ExtractValue(raw string) interface{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	s := NormalizeTypography(raw)
	s = StripControlChars(s)

	span := FindJSONSpan(s)
	if span == "" {
		logging.Get(logging.CategoryExtract).Warn("no JSON span found in reply (len=%d): %.200s", len(raw), raw)
		metrics.ExtractionFailures.Inc()
		return nil
	}
	span = InsertMissingCommas(span)

	// Strict parse first; most replies are clean.
	var v interface{}
	if err := json.Unmarshal([]byte(span), &v); err == nil {
		return v
	}

	repaired := span
	for _, stage := range []func(string) string{
		RewriteSingleQuotedKeys,
		QuoteBareKeys,
		RewriteSingleQuotedValues,
		StripLeadingPlus,
		StripTrailingCommas,
		EscapeInteriorQuotes,
	} {
		repaired = stage(repaired)
	}

	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		logging.Get(logging.CategoryExtract).Warn("unrecoverable reply after repair: %v; raw: %.500s", err, raw)
		metrics.ExtractionFailures.Inc()
		return nil
	}
	logging.ExtractDebug("reply recovered through repair pipeline (len=%d)", len(repaired))
	return v
}

// FindJSONSpan locates the first balanced {...} or [...] region. The scan
// is string-aware: braces inside string literals (escaped or not) do not
// affect the balance. If no span ever closes, the greedy fallback from the
// first opener to the last closer is returned so the repair stages get a
// chance at truncated output.
func FindJSONSpan(s string) string {
	var (
		depth    int
		start    = -1
		inString bool
		escape   bool
		open     byte
		close_   byte
	)

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}
		if b == '"' && depth > 0 {
			inString = true
			continue
		}

		if start == -1 {
			if b == '{' || b == '[' {
				start = i
				open = b
				if b == '{' {
					close_ = '}'
				} else {
					close_ = ']'
				}
				depth = 1
			}
			continue
		}

		switch b {
		case open:
			depth++
		case close_:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	if start == -1 {
		return ""
	}
	// Truncated output: greedy fallback to the last closer.
	if last := strings.LastIndexByte(s, close_); last > start {
		return s[start : last+1]
	}
	return ""
}

// DecodeReply extracts and shapes the model's wire object into a ModelReply.
// Returns nil when nothing parseable was recovered. Individual malformed
// actions or deltas inside an otherwise-valid reply are dropped, not fatal.
func DecodeReply(raw string) *chat.ModelReply {
	obj := Extract(raw)
	if obj == nil {
		return nil
	}

	reply := &chat.ModelReply{}

	switch resp := obj["response"].(type) {
	case []interface{}:
		for _, el := range resp {
			if a, ok := decodeAction(el); ok {
				reply.Actions = append(reply.Actions, a)
			}
		}
	case map[string]interface{}:
		// Some models emit a single action object instead of a list.
		if a, ok := decodeAction(resp); ok {
			reply.Actions = append(reply.Actions, a)
		}
	case string:
		reply.Actions = append(reply.Actions, chat.Action{
			Type:   "text",
			Fields: map[string]interface{}{"content": resp},
		})
	}

	if list, ok := obj["relationship_adjustments"].([]interface{}); ok {
		for _, el := range list {
			if d, ok := decodeDelta(el); ok {
				reply.Deltas = append(reply.Deltas, d)
			}
		}
	} else if single, ok := obj["relationship_adjustment"].(map[string]interface{}); ok {
		// Legacy singular variant used by one-to-one chats.
		if d, ok := decodeDelta(single); ok {
			reply.Deltas = append(reply.Deltas, d)
		}
	}

	return reply
}

func decodeAction(el interface{}) (chat.Action, bool) {
	switch m := el.(type) {
	case map[string]interface{}:
		t, _ := m["type"].(string)
		t = strings.TrimSpace(t)
		if t == "" {
			return chat.Action{}, false
		}
		fields := make(map[string]interface{}, len(m))
		for k, v := range m {
			if k == "type" {
				continue
			}
			fields[k] = v
		}
		return chat.Action{Type: t, Fields: fields}, true
	case string:
		if strings.TrimSpace(m) == "" {
			return chat.Action{}, false
		}
		return chat.Action{Type: "text", Fields: map[string]interface{}{"content": m}}, true
	default:
		return chat.Action{}, false
	}
}

func decodeDelta(el interface{}) (chat.RelationshipDelta, bool) {
	m, ok := el.(map[string]interface{})
	if !ok {
		return chat.RelationshipDelta{}, false
	}
	d := chat.RelationshipDelta{}
	if s, ok := m["source_char_name"].(string); ok {
		d.Source = strings.TrimSpace(s)
	}
	if s, ok := m["target_char_name"].(string); ok {
		d.Target = strings.TrimSpace(s)
	}
	switch c := m["score_change"].(type) {
	case float64:
		d.Change = int(c)
	case string:
		// Tolerate "+3" style strings.
		if n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(c), "+")); err == nil {
			d.Change = n
		}
	}
	if s, ok := m["reason"].(string); ok {
		d.Reason = s
	}
	if d.Source == "" || d.Target == "" {
		return chat.RelationshipDelta{}, false
	}
	return d, true
}
