// Package nats publishes burst reports to the reporting collaborator over
// NATS JetStream. The engine never renders a report itself; it hands the
// structured value to whoever subscribes.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/slotburst/service/verify"
)

// Publisher defines the interface for publishing burst reports.
type Publisher interface {
	// PublishReport publishes one report to the subject "bursts.{run_id}".
	PublishReport(ctx context.Context, report *verify.Report) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes burst reports to NATS JetStream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for burst reports.
	StreamName = "BURSTS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "bursts.*"

	// StreamRetention is how long reports are retained.
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("slotburst-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:     nc,
		js:     js,
		logger: logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		p.logger.Debug("JetStream stream already exists", "stream", StreamName)
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Burst execution reports",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishReport publishes one report to the subject "bursts.{run_id}".
func (p *JetStreamPublisher) PublishReport(ctx context.Context, report *verify.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", report.RunID, err)
	}

	subject := fmt.Sprintf("bursts.%s", report.RunID)
	ack, err := p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publish report to %s: %w", subject, err)
	}

	p.logger.InfoContext(ctx, "published burst report",
		"subject", subject,
		"stream", ack.Stream,
		"sequence", ack.Sequence,
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	p.nc.Close()
	return nil
}
