package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolderRoundTrip(t *testing.T) {
	h := holder{host: "node-1", pid: 4242, runID: "3f0c"}
	assert.Equal(t, "node-1:4242:3f0c", h.String())

	got, err := parseHolder(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseHolderHostWithColons(t *testing.T) {
	got, err := parseHolder("fe80::1:0:run")
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", got.host)
	assert.Equal(t, 0, got.pid)
	assert.Equal(t, "run", got.runID)
}

func TestParseHolderRejects(t *testing.T) {
	for _, s := range []string{"", "nohost", "host:run", "host:abc:run", "host:-1:run"} {
		_, err := parseHolder(s)
		assert.Error(t, err, s)
	}
}
