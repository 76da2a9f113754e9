package metadata

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndRead(t *testing.T) {
	ctx := New()

	require.True(t, Set(ctx, ConnectionIDKey, "c1"))
	require.True(t, Set(ctx, "attempts", 3))
	require.True(t, Set(ctx, "admin", true))

	id, ok := ReadString(ctx, ConnectionIDKey)
	require.True(t, ok)
	assert.Equal(t, "c1", id)

	attempts, ok := ReadInt(ctx, "attempts")
	require.True(t, ok)
	assert.Equal(t, 3, attempts)

	admin, ok := ReadBool(ctx, "admin")
	require.True(t, ok)
	assert.True(t, admin)

	_, ok = Read(ctx, "missing")
	assert.False(t, ok)
}

func TestTypedReadMismatch(t *testing.T) {
	ctx := New()
	Set(ctx, "n", 3)

	_, ok := ReadString(ctx, "n")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	ctx := New()
	Set(ctx, "k", "v")

	assert.True(t, Delete(ctx, "k"))
	assert.False(t, Delete(ctx, "k"))

	_, ok := Read(ctx, "k")
	assert.False(t, ok)
}

func TestContextWithoutMetadata(t *testing.T) {
	ctx := context.Background()

	assert.False(t, Has(ctx))
	assert.False(t, Set(ctx, "k", "v"))
	_, ok := Read(ctx, "k")
	assert.False(t, ok)

	assert.False(t, Set(nil, "k", "v")) //nolint:staticcheck
}

func TestNewWithContextPreservesParent(t *testing.T) {
	type parentKey struct{}
	parent := context.WithValue(context.Background(), parentKey{}, "kept")

	ctx := NewWithContext(parent)
	require.True(t, Has(ctx))
	assert.Equal(t, "kept", ctx.Value(parentKey{}))

	// empty keys are rejected
	assert.False(t, Set(ctx, "", "v"))
}
