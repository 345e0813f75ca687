package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestNatsNotifier_PublishSubjectPerStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.Subscribe("settlement.batch.completed", func(msg *nats.Msg) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	notifier, err := Connect(DefaultConfig(), slog.Default())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer notifier.Close()

	event := BatchEvent{
		BatchID:     "b1",
		Status:      "completed",
		AdapterType: "simulated",
		ExternalRef: "sim-abc-123",
		At:          time.Now().UTC(),
	}
	if err := notifier.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		var got BatchEvent
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if got.BatchID != "b1" || got.Status != "completed" || got.AdapterType != "simulated" {
			t.Errorf("event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not received on settlement.batch.completed")
	}
}

func TestNoopNotifier(t *testing.T) {
	var n Notifier = Noop{}
	if err := n.Publish(context.Background(), BatchEvent{BatchID: "b1"}); err != nil {
		t.Errorf("Publish failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
