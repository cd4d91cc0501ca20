package signaling

import "encoding/json"

// DescribeSignal returns slog key/value pairs summarising an opaque signal
// payload: session descriptions by type and length, ICE candidates as
// "cand" or "end" for the end-of-candidates marker. Only used for logging;
// unknown shapes are relayed just the same.
func DescribeSignal(data json.RawMessage) []any {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return []any{"kind", "opaque", "bytes", len(data)}
	}

	if raw, ok := fields["sdp"]; ok {
		var sdp, typ string
		_ = json.Unmarshal(raw, &sdp)
		if t, ok := fields["type"]; ok {
			_ = json.Unmarshal(t, &typ)
		}
		return []any{"kind", "sdp", "sdp_type", typ, "sdp_len", len(sdp)}
	}

	if raw, ok := fields["candidate"]; ok {
		switch string(raw) {
		case "null", `""`:
			return []any{"kind", "ice", "candidate", "end"}
		}
		return []any{"kind", "ice", "candidate", "cand"}
	}

	return []any{"kind", "opaque", "bytes", len(data)}
}
