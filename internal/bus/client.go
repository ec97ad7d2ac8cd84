package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/protocol"
)

// Client wraps the NATS connection with helpers for the phrasewatch
// subjects. All cross-task communication goes through here; background
// goroutines publish, the presentation side subscribes.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

func Connect(_ context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("phrasewatch"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info("connected to NATS", slog.String("servers", url))

	return &Client{conn: conn, log: log}, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}

func (c *Client) Logger() *slog.Logger {
	return c.log
}

// PublishJSON marshals payload and publishes it on subject.
func (c *Client) PublishJSON(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishTranscript appends one transcript entry to the transcript
// subject. Entries are published in cycle-completion order.
func (c *Client) PublishTranscript(entry protocol.TranscriptEntry) error {
	return c.PublishJSON(protocol.SubjectTranscriptEntry, entry)
}

// PublishKeyPhrases publishes the phrase-extraction outcome for one
// transcript entry.
func (c *Client) PublishKeyPhrases(report protocol.KeyPhraseReport) error {
	return c.PublishJSON(protocol.SubjectPhrasesDetected, report)
}

// PublishPersistentStatus updates the long-lived status channel.
// Best effort: failures are logged, never returned to the caller path
// that triggered the status change.
func (c *Client) PublishPersistentStatus(message string) {
	c.publishStatus(protocol.Status{
		Channel:   protocol.StatusChannelPersistent,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// PublishEphemeralStatus overwrites the per-cycle status channel.
func (c *Client) PublishEphemeralStatus(severity, message string, busy bool) {
	c.publishStatus(protocol.Status{
		Channel:   protocol.StatusChannelEphemeral,
		Severity:  severity,
		Message:   message,
		Busy:      busy,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Client) publishStatus(status protocol.Status) {
	subject := protocol.SubjectStatusEphemeral
	if status.Channel == protocol.StatusChannelPersistent {
		subject = protocol.SubjectStatusPersistent
	}
	if err := c.PublishJSON(subject, status); err != nil {
		c.log.Warn("failed to publish status", slog.String("error", err.Error()))
	}
}
