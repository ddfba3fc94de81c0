package credential

import (
	"context"
	"testing"
	"time"

	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/infrastructure/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore() *Store {
	return NewStore(driver.NewMemoryKV(), zap.NewNop())
}

func TestStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	issuedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &domain.Credential{
		CookieHeader:  "sid=abc",
		SecurityToken: "tok-1",
		TokenIssuedAt: issuedAt,
		UserID:        42,
	}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sid=abc", loaded.CookieHeader)
	assert.Equal(t, "tok-1", loaded.SecurityToken)
	assert.True(t, issuedAt.Equal(loaded.TokenIssuedAt))
	assert.Equal(t, int64(42), loaded.UserID)
}

func TestStoreLoadEmpty(t *testing.T) {
	loaded, err := newTestStore().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &domain.Credential{}, loaded)
}

func TestStoreSetTokenEmptyClears(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	require.NoError(t, store.SetToken(ctx, "tok-1", time.Now()))
	require.NoError(t, store.SetToken(ctx, "", time.Time{}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded.SecurityToken)
	assert.True(t, loaded.TokenIssuedAt.IsZero())
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	require.NoError(t, store.Save(ctx, &domain.Credential{
		CookieHeader:  "sid=abc",
		SecurityToken: "tok-1",
		TokenIssuedAt: time.Now(),
		UserID:        42,
	}))
	require.NoError(t, store.Clear(ctx))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.Credential{}, loaded)
}
