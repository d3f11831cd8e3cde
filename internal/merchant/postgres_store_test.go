//go:build integration

package merchant

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/paybox/internal/paybox"
	"github.com/mbd888/paybox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Upsert(t *testing.T) {
	db := testutil.PGTest(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := &Acquirer{
		ID:            "acq_1",
		Name:          "Shop",
		SiteID:        "1999888",
		RankID:        "32",
		MerchantID:    "107904482",
		Environment:   paybox.EnvironmentTest,
		ActionURL:     paybox.DefaultActionURL,
		TestActionURL: paybox.DefaultTestActionURL,
		TestHMACKey:   testutil.TestHMACKey,
		PublicKey:     "key",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.Upsert(ctx, a))

	a.Name = "Shop SAS"
	a.UpdatedAt = now.Add(time.Minute)
	require.NoError(t, s.Upsert(ctx, a))

	got, err := s.Get(ctx, "acq_1")
	require.NoError(t, err)
	assert.Equal(t, "Shop SAS", got.Name)
	assert.Equal(t, testutil.TestHMACKey, got.TestHMACKey)
	assert.True(t, now.Equal(got.CreatedAt))

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAcquirerNotFound)
}
