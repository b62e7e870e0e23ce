package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
	"github.com/cuongbtq/news-clipping/shared/logger"
	"github.com/cuongbtq/news-clipping/shared/rabbitmq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []rabbitmq.Message
}

func (p *fakePublisher) PublishWithRetry(_ context.Context, msg rabbitmq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func newTestScheduler(t *testing.T, pub *fakePublisher, spec string) *Scheduler {
	t.Helper()
	s, err := New(Config{
		Spec:        spec,
		Timezone:    "America/Sao_Paulo",
		Instruction: "Colete notícias sobre Lear",
		Parameters:  map[string]any{"cliente": "LEAR"},
		Publisher:   pub,
		Logger:      logger.Discard(),
	})
	require.NoError(t, err)
	return s
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad spec", Config{Spec: "every day", Instruction: "x"}},
		{"bad timezone", Config{Spec: "0 8 * * *", Timezone: "Mars/Olympus", Instruction: "x"}},
		{"no instruction", Config{Spec: "0 8 * * *"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = logger.Discard()
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestTrigger_PublishesTask(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestScheduler(t, pub, "0 8 * * *")
	s.now = func() time.Time { return time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Trigger(context.Background()))
	require.Len(t, pub.sent, 1)
	assert.Regexp(t, `^job_[0-9a-f]{12}$`, pub.sent[0].ID)

	var task domain.TaskMessage
	require.NoError(t, json.Unmarshal(pub.sent[0].Body, &task))
	assert.Equal(t, "Colete notícias sobre Lear", task.Instruction)
	assert.Equal(t, "LEAR", task.Parameters["cliente"])
	assert.Equal(t, "2025-03-01T08:00:00-03:00", task.CreatedAt)
	assert.Equal(t, pub.sent[0].ID, task.JobID)
}

func TestTrigger_IdenticalTasksGetDistinctJobs(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestScheduler(t, pub, "0 8 * * *")
	s.now = func() time.Time { return time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC) }

	require.NoError(t, s.Trigger(context.Background()))
	require.NoError(t, s.Trigger(context.Background()))
	require.Len(t, pub.sent, 2)
	assert.NotEqual(t, pub.sent[0].ID, pub.sent[1].ID)
}

func TestTrigger_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	s := newTestScheduler(t, pub, "0 8 * * *")

	assert.ErrorContains(t, s.Trigger(context.Background()), "channel closed")
	assert.NotPanics(t, s.tick)
}

func TestScheduler_NextRunInTimezone(t *testing.T) {
	s := newTestScheduler(t, &fakePublisher{}, "0 8 * * *")
	s.Start()
	defer s.Stop(context.Background())

	next := s.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 8, next.Hour())
	assert.Equal(t, "America/Sao_Paulo", next.Location().String())
}

func TestScheduler_Ticks(t *testing.T) {
	pub := &fakePublisher{}
	s := newTestScheduler(t, pub, "@every 1s")
	s.Start()
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return pub.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}
