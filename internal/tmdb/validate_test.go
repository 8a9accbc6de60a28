package tmdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReportsNestedIssues(t *testing.T) {
	raw := []byte(`{"id": 7, "season_number": 1, "episodes": [
		{"id": 0, "name": "No id", "episode_number": 1},
		{"id": 9, "name": "Fine", "episode_number": 2, "air_date": "2024-02-01"}
	]}`)

	v, err := decode[Season](raw)
	require.NoError(t, err)
	require.Len(t, v.Issues, 1)
	assert.Contains(t, v.Issues[0], "episodes[0].id")
	assert.Len(t, v.Value.Episodes, 2)
}

func TestDecodeWrongRootType(t *testing.T) {
	v, err := decode[Show]([]byte(`[1, 2, 3]`))
	require.NoError(t, err)
	assert.False(t, v.OK())
	assert.Contains(t, v.Issues[0], "(root)")
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	_, err := decode[Show]([]byte(`not json`))
	assert.ErrorIs(t, err, errMalformed)
}
