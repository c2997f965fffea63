package core_test

import (
	"errors"
	"testing"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError(t *testing.T) {
	t.Parallel()

	err := &core.ProviderError{
		Provider:   "direct",
		StatusCode: 429,
		Body:       "quota exceeded",
		Err:        core.ErrSynthesisTimeout,
	}

	assert.Equal(t, "direct provider error (status 429): quota exceeded: synthesis timed out", err.Error())
	require.ErrorIs(t, err, core.ErrSynthesisTimeout)

	var target *core.ProviderError
	require.ErrorAs(t, errors.Join(errors.New("wrapped"), err), &target)
	assert.Equal(t, 429, target.StatusCode)
}

func TestProviderError_Minimal(t *testing.T) {
	t.Parallel()

	err := &core.ProviderError{Provider: "job"}

	assert.Equal(t, "job provider error", err.Error())
	assert.NoError(t, err.Unwrap())
}

func TestErrNoProviderConfigured_IsUnavailable(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, core.ErrNoProviderConfigured, core.ErrProviderUnavailable)
}

func TestDestination_Segments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		folder string
		want   []string
		clean  string
	}{
		{folder: "audio/storyNarration", want: []string{"audio", "storyNarration"}, clean: "audio/storyNarration"},
		{folder: "/audio//story/ ", want: []string{"audio", "story"}, clean: "audio/story"},
		{folder: "", want: []string{}, clean: ""},
	}

	for _, testCase := range tests {
		destination := core.Destination{Folder: testCase.folder}

		assert.Equal(t, testCase.want, destination.Segments(), testCase.folder)
		assert.Equal(t, testCase.clean, destination.CleanFolder(), testCase.folder)
	}
}

func TestSynthesisRequest_Validate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, core.SynthesisRequest{Text: " \n\t"}.Validate(), core.ErrEmptyText)
	require.NoError(t, core.SynthesisRequest{Text: "Hello."}.Validate())
}
