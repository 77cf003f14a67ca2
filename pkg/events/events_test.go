package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"scriptstudio/pkg/domain"
)

func sampleJob() domain.GenerationJob {
	return domain.GenerationJob{
		ID:        "job-1",
		ProjectID: "proj-1",
		Type:      domain.JobScript,
		Status:    domain.JobFailed,
		Error:     "provider unavailable",
	}
}

func TestJobEventRoutingKey(t *testing.T) {
	ev := NewJobEvent(TypeJobFinished, sampleJob())
	if ev.RoutingKey() != "job.finished.script" {
		t.Fatalf("unexpected routing key %q", ev.RoutingKey())
	}
	if ev.OccurredAt.IsZero() {
		t.Fatalf("expected timestamp")
	}
}

func TestRedisStreamPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := NewRedisStreamPublisher(RedisStreamConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	ctx := context.Background()
	if err := pub.Publish(ctx, NewJobEvent(TypeJobFinished, sampleJob())); err != nil {
		t.Fatalf("publish: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	msgs, err := client.XRange(ctx, "studio:job-events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	if msgs[0].Values["job_id"] != "job-1" || msgs[0].Values["type"] != TypeJobFinished {
		t.Fatalf("unexpected values %+v", msgs[0].Values)
	}
	var decoded JobEvent
	if err := json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Status != domain.JobFailed || decoded.Error != "provider unavailable" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestRedisStreamPublisherRequiresAddr(t *testing.T) {
	if _, err := NewRedisStreamPublisher(RedisStreamConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestAMQPMessage(t *testing.T) {
	msg, err := amqpMessage(NewJobEvent(TypeJobStarted, sampleJob()))
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.MessageId != "job-1:job.started" || msg.Type != TypeJobStarted {
		t.Fatalf("unexpected ids %q %q", msg.MessageId, msg.Type)
	}
}

func TestAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher(AMQPConfig{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), JobEvent{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
