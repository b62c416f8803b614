package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePair(t *testing.T) {
	a, b := NormalizePair("b_wx", "a_wx")
	assert.Equal(t, "a_wx", a)
	assert.Equal(t, "b_wx", b)

	// Symmetry: both orderings collapse onto the same key.
	a2, b2 := NormalizePair("a_wx", "b_wx")
	assert.Equal(t, a, a2)
	assert.Equal(t, b, b2)

	// Ordering is case-insensitive so A_wx/a_wx style pairs stay stable,
	// but the stored casing is preserved.
	a3, b3 := NormalizePair("Zed", "apple")
	assert.Equal(t, "apple", a3)
	assert.Equal(t, "Zed", b3)
}
