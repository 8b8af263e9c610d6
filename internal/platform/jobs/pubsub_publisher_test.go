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

	"github.com/y3dhub/api/internal/services"
)

func TestPubSubReconcilePublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "print-task.reconciled")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubReconcilePublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubReconcilePublisher: %v", err)
	}

	completedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	msg := services.ReconcileEventMessage{
		OrderID:     "ord_test",
		OrderNumber: "240-111",
		Created:     2,
		Updated:     1,
		Warnings:    1,
		DryRun:      false,
		CompletedAt: completedAt,
	}

	if _, err := publisher.PublishReconcileEvent(ctx, msg); err != nil {
		t.Fatalf("PublishReconcileEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.ReconcileEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.Created != msg.Created {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != "240-111" {
		t.Fatalf("expected orderNumber attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["warnings"]; attr != "1" {
		t.Fatalf("expected warnings attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["dryRun"]; ok {
		t.Fatalf("dryRun attribute should not be present for live runs")
	}
}
