//go:build integration

package events

import (
	"log/slog"
	"os"
	"testing"

	"github.com/nicklamont/slack-chat-migrator/internal/migrate"
)

func TestIntegration_Publish(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}

	pub, err := NewPublisher(url, slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pub.Close()

	if err := pub.RunStarted("run-test", 3); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if err := pub.ChannelCompleted("run-test", migrate.ChannelView{
		Channel:   "general",
		Space:     "spaces/TEST",
		Phase:     "done",
		Processed: 5,
	}); err != nil {
		t.Fatalf("ChannelCompleted: %v", err)
	}
	if err := pub.RunCompleted("run-test", true); err != nil {
		t.Fatalf("RunCompleted: %v", err)
	}
}
