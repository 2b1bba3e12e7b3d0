package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shotSchema() *Schema {
	return Object(map[string]*Schema{
		"shots": ArrayOf(Object(map[string]*Schema{
			"prompt":   String(),
			"duration": IntegerRange(2, 8),
			"mood":     StringEnum("calm", "tense"),
		}, "prompt", "duration")).WithItems(1, 2),
	}, "shots")
}

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"valid", `{"shots":[{"prompt":"a","duration":4}]}`, ""},
		{"null optional property", `{"shots":[{"prompt":"a","duration":4,"mood":null}]}`, ""},
		{"not json", `{"shots":`, "invalid JSON"},
		{"missing required", `{}`, `missing required property "shots"`},
		{"wrong type", `{"shots":{}}`, "$.shots: expected array, got object"},
		{"too few items", `{"shots":[]}`, "at least 1 items"},
		{"too many items", `{"shots":[{"prompt":"a","duration":2},{"prompt":"b","duration":2},{"prompt":"c","duration":2}]}`, "at most 2 items"},
		{"fractional integer", `{"shots":[{"prompt":"a","duration":4.5}]}`, "$.shots[0].duration: expected integer"},
		{"below minimum", `{"shots":[{"prompt":"a","duration":1}]}`, "below minimum"},
		{"above maximum", `{"shots":[{"prompt":"a","duration":9}]}`, "above maximum"},
		{"enum", `{"shots":[{"prompt":"a","duration":2,"mood":"happy"}]}`, `value "happy" not in [calm, tense]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := shotSchema().Validate([]byte(tt.raw))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var me *MismatchError
			assert.True(t, errors.As(err, &me))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStructuredResult_Decode(t *testing.T) {
	var out struct {
		Shots []struct{ Prompt string } `json:"shots"`
	}
	res := Validated([]byte(`{"shots":[{"prompt":"a","duration":4}]}`), shotSchema())
	require.Equal(t, ResultOK, res.Kind)
	require.NoError(t, res.Decode(&out))
	assert.Equal(t, "a", out.Shots[0].Prompt)

	res = Validated([]byte(`{"shots":[]}`), shotSchema())
	assert.Equal(t, ResultSchemaMismatch, res.Kind)
	assert.ErrorIs(t, res.Decode(&out), ErrSchemaMismatch)

	res = Failed(errors.New("boom"))
	assert.Equal(t, ResultProviderError, res.Kind)
	assert.EqualError(t, res.Decode(&out), "boom (error)")
}
