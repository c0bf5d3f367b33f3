package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name    string
		log     string
		percent *float64
		frames  *int
		ok      bool
	}{
		{name: "empty", log: ""},
		{name: "no progress lines", log: "starting\nworking\n"},
		{name: "frames only", log: "PROGRESS frames=3\n", frames: intPtr(3), ok: true},
		{name: "both", log: "PROGRESS percent=12.5 frames=2\n", percent: floatPtr(12.5), frames: intPtr(2), ok: true},
		{
			name:    "last report wins",
			log:     "PROGRESS percent=10 frames=1\nnoise\nPROGRESS percent=55 frames=9\n",
			percent: floatPtr(55),
			frames:  intPtr(9),
			ok:      true,
		},
		{name: "malformed values ignored", log: "PROGRESS percent=abc frames=-2\n"},
		{name: "prefix must be a whole word", log: "PROGRESSIVE frames=4\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, f, ok := parseProgress([]byte(tt.log))
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.percent, p)
			assert.Equal(t, tt.frames, f)
		})
	}
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(n int) *int           { return &n }
