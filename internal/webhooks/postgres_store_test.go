//go:build integration

package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/paybox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Subscriptions(t *testing.T) {
	db := testutil.PGTest(t)
	_, err := db.Exec(`INSERT INTO acquirers (id, site_id, rank_id, merchant_id, environment,
		action_url, test_action_url, public_key) VALUES ('acq_1', '1999888', '32', '107904482', 'test', '', '', 'key')`)
	require.NoError(t, err)

	s := NewPostgresStore(db)
	ctx := context.Background()
	subscribe(t, s, "wh_1", "acq_1", "https://shop.example.com/hook", EventTransactionDone, EventTransactionError)

	got, err := s.Get(ctx, "wh_1")
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventTransactionDone, EventTransactionError}, got.Events)
	assert.Equal(t, "secret-wh_1", got.Secret)

	now := time.Now().UTC().Truncate(time.Microsecond)
	got.LastSuccess = &now
	got.ConsecutiveFailures = 3
	got.Active = false
	require.NoError(t, s.Update(ctx, got))

	list, err := s.ListByAcquirer(ctx, "acq_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)
	assert.Equal(t, 3, list[0].ConsecutiveFailures)
	assert.True(t, now.Equal(*list[0].LastSuccess))

	require.NoError(t, s.Delete(ctx, "wh_1"))
	_, err = s.Get(ctx, "wh_1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "wh_1"), ErrSubscriptionNotFound)
}
