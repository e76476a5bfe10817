package memory

import (
	"context"
	"testing"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDirectory(t *testing.T) {
	d := NewUserDirectory(domain.User{ID: "alice", DisplayName: "Alice"})
	d.Put(domain.User{ID: "bob", Name: "bob"})

	u, err := d.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Label())

	u, err = d.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Label())

	_, err = d.GetUser(context.Background(), "carol")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}
