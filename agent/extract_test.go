package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AI-driven-ST-Foundation/agent/model"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    map[string]any
		wantErr bool
	}{
		{
			name:  "plain object",
			reply: `{"action":"open"}`,
			want:  map[string]any{"action": "open"},
		},
		{
			name:  "surrounded by prose",
			reply: `sure! {"action":"tap","locator":{"strategy":"id","value":"com.app:id/ok"}} thanks`,
			want: map[string]any{
				"action":  "tap",
				"locator": map[string]any{"strategy": "id", "value": "com.app:id/ok"},
			},
		},
		{
			name:  "markdown fence",
			reply: "```json\n{\"assertion\":\"visible\",\"expected\":null}\n```",
			want:  map[string]any{"assertion": "visible", "expected": nil},
		},
		{
			name:  "whitespace around object",
			reply: "\n  {\"action\":\"clear\"}  \n",
			want:  map[string]any{"action": "clear"},
		},
		{name: "no braces", reply: "I cannot help with that", wantErr: true},
		{name: "object inside array", reply: `[{"action":"tap"}]`, want: map[string]any{"action": "tap"}},
		{name: "bare array", reply: `[1, 2]`, wantErr: true},
		{name: "broken json", reply: `{"action": tap}`, wantErr: true},
		{name: "two objects", reply: `{"a":1} and {"b":2}`, wantErr: true},
		{name: "empty", reply: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.reply)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrMalformedResult)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_NumbersDecodeAsFloat(t *testing.T) {
	got, err := Extract(`{"assertion":"text_contains","expected":42}`)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got["expected"])
}
