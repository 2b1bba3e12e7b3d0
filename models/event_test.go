package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_StageCompleteKeepsZeroSucceeded(t *testing.T) {
	raw, err := json.Marshal(Event{Seq: 4, Type: EventStageComplete, Stage: "video", Succeeded: 0, Total: 3})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, float64(0), fields["succeeded"])
	assert.Equal(t, float64(3), fields["total"])
	assert.NotContains(t, fields, "error")
}
