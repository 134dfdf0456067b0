package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shopstream/api/internal/services"
)

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Type:           "order.cancelled",
		OrderID:        "ord_123",
		OrderNumber:    "1001",
		PreviousStatus: "confirmed",
		CurrentStatus:  "cancelled",
		RequestID:      "req_456",
		RequestType:    "cancel",
		ActorID:        "user-1",
		OccurredAt:     occurredAt,
		Metadata:       map[string]any{"reason": "changed my mind"},
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderEventPayload
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != event.Type || payload.OrderID != event.OrderID {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.PreviousStatus != "confirmed" || payload.CurrentStatus != "cancelled" {
		t.Fatalf("unexpected status transition in payload %#v", payload)
	}
	if !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected occurred_at %s", payload.OccurredAt)
	}
	if attr := messages[0].Attributes["eventType"]; attr != "order.cancelled" {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "ord_123" {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["reason"]; ok {
		t.Fatalf("metadata should not leak into attributes")
	}
}

func TestPubSubOrderEventPublisherRejectsIncompleteEvent(t *testing.T) {
	publisher := &PubSubOrderEventPublisher{topic: &pubsub.Topic{}, marshal: json.Marshal}

	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{OrderID: "ord_1"}); err == nil {
		t.Fatal("expected error for missing event type")
	}
	if err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: "order.delivered"}); err == nil {
		t.Fatal("expected error for missing order id")
	}
}
