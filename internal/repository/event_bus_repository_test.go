package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/dref-api/internal/models"
)

type publisherStub struct {
	channel string
	payload []byte
	err     error
}

func (p *publisherStub) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	p.payload, _ = message.([]byte)
	return redis.NewIntResult(2, p.err)
}

func TestEventBusRepositoryPublish(t *testing.T) {
	stub := &publisherStub{}
	repo := NewEventBusRepository(stub, "dref:lifecycle")

	receivers, err := repo.Publish(context.Background(), models.LifecycleEvent{ID: "evt-1", Type: models.LifecycleEventApproved, Kind: models.RecordKindDref, RecordID: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(2), receivers)
	assert.Equal(t, "dref:lifecycle", stub.channel)

	var decoded models.LifecycleEvent
	require.NoError(t, json.Unmarshal(stub.payload, &decoded))
	assert.Equal(t, models.LifecycleEventApproved, decoded.Type)
	assert.Equal(t, int64(4), decoded.RecordID)
}

func TestEventBusRepositoryPublishError(t *testing.T) {
	repo := NewEventBusRepository(&publisherStub{err: errors.New("down")}, "c")
	_, err := repo.Publish(context.Background(), models.LifecycleEvent{ID: "evt-2"})
	assert.Error(t, err)
}

func TestEventBusRepositoryWithoutClient(t *testing.T) {
	repo := NewEventBusRepository(nil, "c")
	receivers, err := repo.Publish(context.Background(), models.LifecycleEvent{ID: "evt-3"})
	require.NoError(t, err)
	assert.Zero(t, receivers)
}
