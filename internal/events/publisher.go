// Package events publishes run lifecycle notifications over NATS so external
// dashboards and automation can follow migration progress. Publishing is
// optional: the tool runs identically with no broker configured.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nicklamont/slack-chat-migrator/internal/migrate"
)

const (
	SubjectRunStarted       = "migrate.run.started"
	SubjectChannelCompleted = "migrate.channel.completed"
	SubjectRunCompleted     = "migrate.run.completed"
)

type runStartedEvent struct {
	RunID    string    `json:"run_id"`
	Channels int       `json:"channels"`
	At       time.Time `json:"at"`
}

type channelCompletedEvent struct {
	RunID   string              `json:"run_id"`
	Channel migrate.ChannelView `json:"channel"`
	At      time.Time           `json:"at"`
}

type runCompletedEvent struct {
	RunID   string    `json:"run_id"`
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc, logger: logger}, nil
}

func (p *Publisher) RunStarted(runID string, channels int) error {
	return p.publish(SubjectRunStarted, runStartedEvent{
		RunID:    runID,
		Channels: channels,
		At:       time.Now().UTC(),
	})
}

func (p *Publisher) ChannelCompleted(runID string, view migrate.ChannelView) error {
	return p.publish(SubjectChannelCompleted, channelCompletedEvent{
		RunID:   runID,
		Channel: view,
		At:      time.Now().UTC(),
	})
}

func (p *Publisher) RunCompleted(runID string, success bool) error {
	return p.publish(SubjectRunCompleted, runCompletedEvent{
		RunID:   runID,
		Success: success,
		At:      time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

func (p *Publisher) Close() {
	// Drain flushes buffered publishes before closing.
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
