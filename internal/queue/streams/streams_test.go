package streams

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)
	const stream = "refresh.enqueued"

	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	pub := NewPublisher(client)
	payload := map[string]interface{}{"schedule_id": "sched-1", "query": "fusion funding"}
	if _, err := pub.PublishRaw(ctx, stream, "refresh.enqueued", "v1", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer := NewConsumer(client, "workers", "worker-1")
	msgs, err := consumer.Read(ctx, stream, WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	env := msgs[0].Envelope
	if env.EventType != "refresh.enqueued" || env.PayloadVersion != "v1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.EventID == "" || env.OccurredAt.IsZero() {
		t.Fatalf("expected id and timestamp stamped, got %+v", env)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(env.Data, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["schedule_id"] != "sched-1" {
		t.Fatalf("unexpected payload: %v", decoded)
	}

	if err := consumer.Ack(ctx, stream, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	again, err := consumer.Read(ctx, stream, WithCount(10))
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no redelivery after ack, got %d", len(again))
	}
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)

	if err := EnsureGroup(ctx, client, "s", "g"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := EnsureGroup(ctx, client, "s", "g"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}

func TestConsumerAbsorbsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)
	const stream = "refresh.enqueued"

	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"envelope": "not json"},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}

	consumer := NewConsumer(client, "workers", "worker-1")
	msgs, err := consumer.Read(ctx, stream, WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected bad entry dropped, got %d messages", len(msgs))
	}

	pending, err := client.XPending(ctx, stream, "workers").Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected bad entry acked away, %d still pending", pending.Count)
	}
}

func TestAutoClaimTakesOverIdleMessages(t *testing.T) {
	ctx := context.Background()
	client := testRedis(t)
	const stream = "refresh.enqueued"

	if err := EnsureGroup(ctx, client, stream, "workers"); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	pub := NewPublisher(client)
	if _, err := pub.PublishRaw(ctx, stream, "refresh.enqueued", "v1", map[string]interface{}{"schedule_id": "sched-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// worker-1 reads but never acks, simulating a crash mid-job.
	dead := NewConsumer(client, "workers", "worker-1")
	msgs, err := dead.Read(ctx, stream, WithCount(10))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	alive := NewConsumer(client, "workers", "worker-2")
	claimed, _, err := alive.AutoClaim(ctx, stream, 0, "0-0", 10)
	if err != nil {
		t.Fatalf("autoclaim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected to reclaim 1 message, got %d", len(claimed))
	}
	if claimed[0].Envelope.EventType != "refresh.enqueued" {
		t.Fatalf("unexpected envelope: %+v", claimed[0].Envelope)
	}
}

func TestPublishRejectsEmptyStream(t *testing.T) {
	client := testRedis(t)
	pub := NewPublisher(client)
	if _, err := pub.PublishRaw(context.Background(), "", "refresh.enqueued", "v1", map[string]interface{}{}); err == nil {
		t.Fatal("expected error for empty stream name")
	}
}

func TestUnmarshalEnvelopeValidates(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte(`{"event_type":"refresh.enqueued"}`)); err == nil {
		t.Fatal("expected validation error for missing fields")
	}
	valid := []byte(`{"event_id":"e-1","event_type":"refresh.enqueued","payload_version":"v1","data":{"schedule_id":"s-1"}}`)
	env, err := UnmarshalEnvelope(valid)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at backfilled")
	}
}
