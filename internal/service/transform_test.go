package service

import (
	"testing"

	"telefeed/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_NilSpecPassesThrough(t *testing.T) {
	pipeline := NewTransformPipeline()

	out, err := pipeline.Apply("unchanged", nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)

	out, err = pipeline.Apply("unchanged", &models.TransformSpec{})
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
}

func TestApply_RemoveLines(t *testing.T) {
	pipeline := NewTransformPipeline()

	tests := []struct {
		name     string
		text     string
		keywords []string
		want     string
	}{
		{"single line fully removed", "hello world", []string{"world"}, ""},
		{"matching line dropped", "keep this\ndrop world\nkeep too", []string{"world"}, "keep this\nkeep too"},
		{"multiple keywords", "a spam\nb ads\nc clean", []string{"spam", "ads"}, "c clean"},
		{"no keywords", "as is", nil, "as is"},
		{"empty keyword ignored", "as is", []string{""}, "as is"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &models.TransformSpec{RemoveLines: tt.keywords}
			out, err := pipeline.Apply(tt.text, spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestApply_RemoveLinesIdempotent(t *testing.T) {
	pipeline := NewTransformPipeline()
	spec := &models.TransformSpec{RemoveLines: []string{"noise"}}

	once, err := pipeline.Apply("signal\nnoise here\nmore signal", spec)
	require.NoError(t, err)
	twice, err := pipeline.Apply(once, spec)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestApply_PowerRegex(t *testing.T) {
	pipeline := NewTransformPipeline()
	spec := &models.TransformSpec{PowerRules: []string{"red=blue"}}

	out, err := pipeline.Apply("the red car", spec)
	require.NoError(t, err)
	assert.Equal(t, "the blue car", out)
}

func TestApply_PowerLiteralPair(t *testing.T) {
	pipeline := NewTransformPipeline()
	// Quoted pairs replace literally, so regex metacharacters are inert.
	spec := &models.TransformSpec{PowerRules: []string{`"a.b","c"`}}

	out, err := pipeline.Apply("a.b and axb", spec)
	require.NoError(t, err)
	assert.Equal(t, "c and axb", out)
}

func TestApply_PowerRulesInOrder(t *testing.T) {
	pipeline := NewTransformPipeline()
	spec := &models.TransformSpec{PowerRules: []string{"red=blue", "blue=green"}}

	out, err := pipeline.Apply("red", spec)
	require.NoError(t, err)
	assert.Equal(t, "green", out)
}

func TestApply_PowerAcrossLines(t *testing.T) {
	pipeline := NewTransformPipeline()
	spec := &models.TransformSpec{PowerRules: []string{`start.*end=gone`}}

	out, err := pipeline.Apply("start\nmiddle\nend", spec)
	require.NoError(t, err)
	assert.Equal(t, "gone", out)
}

func TestApply_InvalidPowerRuleFailsWholeTransform(t *testing.T) {
	pipeline := NewTransformPipeline()

	_, err := pipeline.Apply("text", &models.TransformSpec{PowerRules: []string{"no-separator"}})
	assert.Error(t, err)

	_, err = pipeline.Apply("text", &models.TransformSpec{PowerRules: []string{"([=x"}})
	assert.Error(t, err)
}

func TestApply_Format(t *testing.T) {
	pipeline := NewTransformPipeline()
	spec := &models.TransformSpec{Format: "HEADER\n" + FormatPlaceholder + "\nFOOTER"}

	out, err := pipeline.Apply("body", spec)
	require.NoError(t, err)
	assert.Equal(t, "HEADER\nbody\nFOOTER", out)
}

func TestApply_StageOrderFixed(t *testing.T) {
	// RemoveLines runs before Power: the keyword line disappears before the
	// substitution could have touched it. Format wraps last.
	pipeline := NewTransformPipeline()
	spec := &models.TransformSpec{
		RemoveLines: []string{"secret"},
		PowerRules:  []string{"secret=public"},
		Format:      "[" + FormatPlaceholder + "]",
	}

	out, err := pipeline.Apply("secret plan\nvisible", spec)
	require.NoError(t, err)
	assert.Equal(t, "[visible]", out)
}

func TestApply_SingleLineRemovedThenFormatted(t *testing.T) {
	pipeline := NewTransformPipeline()
	spec := &models.TransformSpec{RemoveLines: []string{"world"}}

	out, err := pipeline.Apply("hello world", spec)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}
