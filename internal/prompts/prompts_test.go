package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForSummary(t *testing.T) {
	assert.Equal(t, DefaultSummary, ForSummary(""))
	assert.Equal(t, "custom", ForSummary("custom"))
	assert.Equal(t, "Meeting: Sync\n\nTranscript:\nhello", Transcript("Sync", "hello"))
}
