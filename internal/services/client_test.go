package services

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/invoicing/internal/apperr"
	"github.com/diewo77/invoicing/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.clients.Create(ctx, f.owner.ID, ClientInput{Name: " ", Email: "not-an-email"})
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Fields, "name")
	assert.Contains(t, e.Fields, "email")

	c := f.client(t, "Initial Name")
	updated, err := f.clients.Update(ctx, f.owner.ID, c.ID, ClientInput{Name: "Renamed", Email: "new@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	_, err = f.clients.Get(ctx, f.owner.ID+1, c.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	require.NoError(t, f.clients.Delete(ctx, f.owner.ID, c.ID))
	_, err = f.clients.Get(ctx, f.owner.ID, c.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	assert.Equal(t, []string{models.EventClientCreated, models.EventClientUpdated, models.EventClientDeleted}, f.notifier.names())
}
