package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornet-relay-client/lib/health"
	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/types"
)

func TestApplyConfigUpdatesFlagThreshold(t *testing.T) {
	c := &client{
		tracker: health.NewTracker(nil, health.WithFlagThreshold(5)),
		logger:  logging.NewBasicLogger(),
	}

	c.applyConfig(&types.Config{Health: types.HealthConfig{FlagThreshold: 2}})
	assert.Equal(t, 2, c.tracker.FlagThreshold())

	// an unset threshold keeps the current one
	c.applyConfig(&types.Config{})
	assert.Equal(t, 2, c.tracker.FlagThreshold())
}

func TestOpenHealthStoreInMemory(t *testing.T) {
	store, err := openHealthStore(types.HealthConfig{})
	require.NoError(t, err)
	defer store.Cleanup()

	store.GetBucket(health.BucketName)
	assert.Equal(t, []string{health.BucketName}, store.GetBucketList())
}
