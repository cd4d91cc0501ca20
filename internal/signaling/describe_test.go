package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribeSignal(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []any
	}{
		{name: "offer", data: `{"type":"offer","sdp":"v=0\r\n"}`, want: []any{"kind", "sdp", "sdp_type", "offer", "sdp_len", 5}},
		{name: "candidate", data: `{"candidate":"candidate:1 1 udp 1 1.2.3.4 9 typ host","sdpMid":"0"}`, want: []any{"kind", "ice", "candidate", "cand"}},
		{name: "null candidate", data: `{"candidate":null}`, want: []any{"kind", "ice", "candidate", "end"}},
		{name: "empty candidate", data: `{"candidate":""}`, want: []any{"kind", "ice", "candidate", "end"}},
		{name: "other object", data: `{"hello":"world"}`, want: []any{"kind", "opaque", "bytes", 17}},
		{name: "not an object", data: `[1,2]`, want: []any{"kind", "opaque", "bytes", 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescribeSignal(json.RawMessage(tt.data)))
		})
	}
}
