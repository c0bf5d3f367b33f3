package jobid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		instance string
		model    string
		want     Identity
		wantErr  bool
	}{
		{name: "word characters", user: "u1", instance: "Sim_42", model: "animation", want: "u1~Sim_42~animation"},
		{name: "dashes allowed", user: "user-a", instance: "sid-9", model: "beam-report", want: "user-a~sid-9~beam-report"},
		{name: "empty user", user: "", instance: "s", model: "m", wantErr: true},
		{name: "separator in instance", user: "u", instance: "a~b", model: "m", wantErr: true},
		{name: "slash in model", user: "u", instance: "s", model: "../m", wantErr: true},
		{name: "space in user", user: "a b", instance: "s", model: "m", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(tt.user, tt.instance, tt.model)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidComponent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_StableForSameTriplet(t *testing.T) {
	a, err := New("u", "s", "m")
	require.NoError(t, err)
	b, err := New("u", "s", "m")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := New("u", "s", "other")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestParse_RoundTrip(t *testing.T) {
	id, err := New("user-1", "sim_2", "report3")
	require.NoError(t, err)

	user, instance, model, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)
	assert.Equal(t, "sim_2", instance)
	assert.Equal(t, "report3", model)
	assert.True(t, id.Valid())
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "a~b", "a~b~c~d", "a~~c", "a~b c~d"} {
		_, _, _, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidComponent, "input %q", in)
	}
	assert.False(t, Identity("nope").Valid())
}
