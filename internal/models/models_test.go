package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRankOrdering(t *testing.T) {
	assert.Greater(t, SeverityP1.Rank(), SeverityP2.Rank())
	assert.Greater(t, SeverityP2.Rank(), SeverityP3.Rank())
	assert.Greater(t, SeverityP3.Rank(), SeverityP4.Rank())
	assert.Greater(t, SeverityP4.Rank(), Severity("bogus").Rank())
}

func TestSeverityFromString(t *testing.T) {
	assert.Equal(t, SeverityP1, SeverityFromString("P1"))
	assert.Equal(t, SeverityP4, SeverityFromString("P4"))
	assert.Equal(t, SeverityP4, SeverityFromString(""))
	assert.Equal(t, SeverityP4, SeverityFromString("critical"))
}

func TestSeverityValid(t *testing.T) {
	assert.True(t, SeverityP3.Valid())
	assert.False(t, Severity("p1").Valid())
	assert.False(t, Severity("").Valid())
}

func TestNewIDFormat(t *testing.T) {
	id := NewID("inc")
	require.Len(t, id, len("inc-")+12)
	assert.Regexp(t, `^inc-[0-9a-f]{12}$`, id)
	assert.NotEqual(t, id, NewID("inc"))
}

func TestIncidentMatches(t *testing.T) {
	inc := &Incident{
		ID:        NewID("inc"),
		Severity:  SeverityP2,
		CreatedAt: time.Now().UTC(),
		Events: []Event{
			{Type: EventNewContainer},
			{Type: EventAuthFailures},
		},
	}
	assert.True(t, inc.Matches(EventNewContainer))
	assert.True(t, inc.Matches(EventAuthFailures))
	assert.False(t, inc.Matches(EventConfigDrift))
}
