package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/natsserver"
	"github.com/phrasewatch/phrasewatch/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T) *Client {
	t.Helper()
	// Port -1 asks the server for a random free port.
	es, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(es.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{es.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublishTranscript(t *testing.T) {
	client := startBus(t)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectTranscriptEntry)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	entry := protocol.TranscriptEntry{Seq: 7, Text: "safety reset engaged", Mode: "online", Timestamp: time.Now().UTC()}
	if err := client.PublishTranscript(entry); err != nil {
		t.Fatalf("publish transcript: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("receive transcript: %v", err)
	}
	var got protocol.TranscriptEntry
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal transcript: %v", err)
	}
	if got.Seq != 7 || got.Text != "safety reset engaged" || got.Mode != "online" {
		t.Fatalf("unexpected transcript entry: %+v", got)
	}
}

func TestPublishKeyPhrases(t *testing.T) {
	client := startBus(t)

	sub, err := client.Conn().SubscribeSync(protocol.SubjectPhrasesDetected)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	report := protocol.KeyPhraseReport{
		Seq:       3,
		Phrases:   []string{"safety reset"},
		Line:      "Key Phrases: safety reset",
		Timestamp: time.Now().UTC(),
	}
	if err := client.PublishKeyPhrases(report); err != nil {
		t.Fatalf("publish key phrases: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("receive report: %v", err)
	}
	var got protocol.KeyPhraseReport
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if got.Seq != 3 || got.Line != "Key Phrases: safety reset" || len(got.Phrases) != 1 {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestPublishStatusChannels(t *testing.T) {
	client := startBus(t)

	persistent, err := client.Conn().SubscribeSync(protocol.SubjectStatusPersistent)
	if err != nil {
		t.Fatalf("subscribe persistent: %v", err)
	}
	ephemeral, err := client.Conn().SubscribeSync(protocol.SubjectStatusEphemeral)
	if err != nil {
		t.Fatalf("subscribe ephemeral: %v", err)
	}

	client.PublishPersistentStatus("Offline loaded | Online available")
	client.PublishEphemeralStatus(protocol.SeverityInfo, "Listening...", true)

	msg, err := persistent.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("receive persistent status: %v", err)
	}
	var status protocol.Status
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("unmarshal persistent status: %v", err)
	}
	if status.Channel != protocol.StatusChannelPersistent || status.Message != "Offline loaded | Online available" {
		t.Fatalf("unexpected persistent status: %+v", status)
	}

	msg, err = ephemeral.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("receive ephemeral status: %v", err)
	}
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("unmarshal ephemeral status: %v", err)
	}
	if status.Channel != protocol.StatusChannelEphemeral || !status.Busy || status.Severity != protocol.SeverityInfo {
		t.Fatalf("unexpected ephemeral status: %+v", status)
	}

	if !client.Healthy() {
		t.Fatalf("expected healthy connection")
	}
}
