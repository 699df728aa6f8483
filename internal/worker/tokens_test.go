package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBook(t *testing.T) {
	b := NewTokenBook()
	require.NoError(t, b.Check("gs", ""), "no token issued yet")
	require.NoError(t, b.Check("gs", "anything"))

	tok := b.Issue("gs")
	assert.NoError(t, b.Check("gs", tok))
	assert.ErrorIs(t, b.Check("gs", ""), ErrOwnershipTakenOver)

	newer := b.Issue("gs")
	assert.ErrorIs(t, b.Check("gs", tok), ErrOwnershipTakenOver)
	assert.NoError(t, b.Check("gs", newer))
	assert.NoError(t, b.Check("other", tok))

	b.Forget("gs")
	assert.NoError(t, b.Check("gs", tok))
}
