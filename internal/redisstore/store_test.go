package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowlab/internal/store"
	"github.com/specialistvlad/flowlab/internal/store/storetest"
)

// FLOWLAB_TEST_REDIS_URL points the suite at a disposable Redis server,
// for example redis://localhost:6379/15.
func redisURL(t *testing.T) string {
	url := os.Getenv("FLOWLAB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FLOWLAB_TEST_REDIS_URL not set")
	}
	return url
}

// newTestStore opens a store under a fresh key prefix and removes its keys
// when the test ends.
func newTestStore(t *testing.T, url string) store.Store {
	ctx := context.Background()
	cfg := Config{URL: url, Prefix: "flowlab-test-" + uuid.NewString(), ReplyTTL: time.Minute}
	s, err := Open(ctx, cfg)
	require.NoError(t, err)
	// The suite closes s before this runs, so clean up on a fresh client.
	t.Cleanup(func() {
		c, err := Open(ctx, cfg)
		if err != nil {
			return
		}
		defer c.Close()
		recs, _ := c.Sessions(ctx)
		for _, r := range recs {
			_ = c.DeleteSession(ctx, r.ID)
		}
		_ = c.Purge(ctx)
	})
	return s
}

func TestStoreConformance(t *testing.T) {
	url := redisURL(t)
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t, url) })
}

func TestStoreMalformedRequests(t *testing.T) {
	url := redisURL(t)
	storetest.RunMalformedRequests(t,
		func(t *testing.T) store.Store { return newTestStore(t, url) },
		func(t *testing.T, s store.Store, raw []byte) {
			rs := s.(*Store)
			require.NoError(t, rs.client.RPush(context.Background(), rs.requestsKey(), raw).Err())
		})
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "not-a-url"})
	require.Error(t, err)
}
