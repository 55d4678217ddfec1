package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsersFallBack(t *testing.T) {
	t.Setenv("SIDECAR_TEST_INT", "nope")
	t.Setenv("SIDECAR_TEST_DUR", "250ms")
	t.Setenv("SIDECAR_TEST_LIST", " a, ,b ")
	t.Setenv("SIDECAR_TEST_BOOL", "true")

	assert.Equal(t, 7, Int("SIDECAR_TEST_INT", 7))
	assert.Equal(t, 250*time.Millisecond, Duration("SIDECAR_TEST_DUR", time.Second))
	assert.Equal(t, []string{"a", "b"}, List("SIDECAR_TEST_LIST", nil))
	assert.True(t, Bool("SIDECAR_TEST_BOOL", false))
	assert.Equal(t, "x", Str("SIDECAR_TEST_UNSET", "x"))
	assert.InDelta(t, 0.5, Float("SIDECAR_TEST_UNSET", 0.5), 1e-9)
}
