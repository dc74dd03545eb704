package alert_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/gatekit/pkg/alert"
)

func TestMemoryHubPublishSubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := alert.NewMemoryHub(10)
	defer hub.Close()

	sub := hub.Subscribe(ctx)

	msg := alert.Message{
		Topic:    alert.TopicEmergencyShutdown,
		Subject:  "new-checkout",
		Severity: alert.SeverityCritical,
		Body:     "flag disabled by operator",
		At:       time.Now(),
	}
	require.NoError(t, hub.Publish(ctx, msg))

	select {
	case got := <-sub:
		assert.Equal(t, msg.Topic, got.Topic)
		assert.Equal(t, msg.Subject, got.Subject)
		assert.Equal(t, alert.SeverityCritical, got.Severity)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryHubFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := alert.NewMemoryHub(1)
	defer hub.Close()

	sub1 := hub.Subscribe(ctx)
	sub2 := hub.Subscribe(ctx)

	require.NoError(t, hub.Publish(ctx, alert.Message{Topic: "t"}))

	for _, sub := range []<-chan alert.Message{sub1, sub2} {
		select {
		case got := <-sub:
			assert.Equal(t, "t", got.Topic)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed message")
		}
	}
}

func TestMemoryHubDropsForSlowConsumer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := alert.NewMemoryHub(1)
	defer hub.Close()

	sub := hub.Subscribe(ctx)

	// Fill the buffer and keep publishing; Publish must never block.
	for attempt := 0; attempt < 5; attempt++ {
		require.NoError(t, hub.Publish(ctx, alert.Message{Topic: "t"}))
	}

	// Exactly one message fits the buffer.
	<-sub
	select {
	case _, ok := <-sub:
		if ok {
			t.Fatal("expected no further buffered messages")
		}
	default:
	}
}

func TestMemoryHubClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	hub := alert.NewMemoryHub(1)
	sub := hub.Subscribe(ctx)

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close()) // idempotent

	_, ok := <-sub
	assert.False(t, ok, "subscriber channel should be closed")

	// Publishing after close is a no-op, not an error.
	assert.NoError(t, hub.Publish(ctx, alert.Message{Topic: "t"}))
}

func TestMemoryHubContextCancellation(t *testing.T) {
	t.Parallel()

	hub := alert.NewMemoryHub(1)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx)
	cancel()

	// Channel closes once the cleanup goroutine runs.
	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up on context cancellation")
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()
	assert.NoError(t, alert.NopPublisher{}.Publish(context.Background(), alert.Message{}))
}
