package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"respirosync/internal/models"
)

type memoryStore struct {
	mu     sync.Mutex
	events []*models.ApneaEvent
	err    error
}

func (s *memoryStore) CreateApneaEvent(ctx context.Context, event *models.ApneaEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type memoryStream struct {
	streams map[string]int
}

func (s *memoryStream) PublishJSON(ctx context.Context, stream string, data interface{}) (string, error) {
	s.streams[stream]++
	return "1-0", nil
}

func metrics(session string, apnea bool) *models.SleepMetrics {
	return &models.SleepMetrics{
		SessionID:        session,
		Timestamp:        time.Unix(1700000000, 0),
		PossibleApnea:    apnea,
		BreathingRateBPM: 13,
		SleepStage:       models.StageLightSleep,
		SinceLastBreath:  12 * time.Second,
	}
}

func TestApneaEventBuilder_Build(t *testing.T) {
	b := NewApneaEventBuilder("chest-1")
	event := b.Build(metrics("s-1", true))

	_, err := uuid.Parse(event.EventID)
	require.NoError(t, err)
	assert.Equal(t, "s-1", event.SessionID)
	assert.Equal(t, "chest-1", event.DeviceID)
	assert.Equal(t, 12.0, event.SecondsSinceLastBreath)
	assert.Equal(t, 13.0, event.LastBPM)
	assert.Equal(t, models.StageLightSleep, event.SleepStage)
	assert.True(t, event.TriggeredAt.Equal(time.Unix(1700000000, 0)))
}

func TestApneaTracker_OneEventPerEpisode(t *testing.T) {
	tr := NewApneaTracker("chest-1", zap.NewNop())

	assert.Nil(t, tr.Observe(metrics("s-1", false)))
	assert.NotNil(t, tr.Observe(metrics("s-1", true)))
	assert.Nil(t, tr.Observe(metrics("s-1", true)))
	assert.Nil(t, tr.Observe(metrics("s-1", true)))
	assert.Nil(t, tr.Observe(metrics("s-1", false)))
	assert.NotNil(t, tr.Observe(metrics("s-1", true)))

	assert.Equal(t, 2, tr.Episodes())
}

func TestApneaTracker_NewSessionResets(t *testing.T) {
	tr := NewApneaTracker("chest-1", zap.NewNop())

	require.NotNil(t, tr.Observe(metrics("s-1", true)))
	// 新会话的第一帧即为上升沿
	assert.NotNil(t, tr.Observe(metrics("s-2", true)))
	assert.Equal(t, 1, tr.Episodes())

	tr.Reset()
	assert.Equal(t, 0, tr.Episodes())
}

func TestApneaTracker_Handle_PublishesAndStores(t *testing.T) {
	store := &memoryStore{}
	stream := &memoryStream{streams: map[string]int{}}
	var fired []*models.ApneaEvent

	tr := NewApneaTracker("chest-1", zap.NewNop(),
		WithStore(store),
		WithStream(stream, "respirosync:alarm:stream"),
		WithOnEvent(func(e *models.ApneaEvent) { fired = append(fired, e) }),
	)

	ctx := context.Background()
	tr.Handle(ctx, metrics("s-1", true), nil)
	tr.Handle(ctx, metrics("s-1", true), nil)
	// 空闲帧结束当前片段
	tr.Handle(ctx, nil, errors.New("session not running"))
	tr.Handle(ctx, metrics("s-1", true), nil)

	assert.Len(t, store.events, 2)
	assert.Equal(t, 2, stream.streams["respirosync:alarm:stream"])
	assert.Len(t, fired, 2)
}

func TestApneaTracker_Handle_StoreFailureStillNotifies(t *testing.T) {
	store := &memoryStore{err: errors.New("db down")}
	calls := 0
	tr := NewApneaTracker("chest-1", zap.NewNop(),
		WithStore(store),
		WithOnEvent(func(*models.ApneaEvent) { calls++ }),
	)

	tr.Handle(context.Background(), metrics("s-1", true), nil)
	assert.Equal(t, 1, calls)
}
