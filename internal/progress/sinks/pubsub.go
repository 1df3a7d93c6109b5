package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ashmod/panels/internal/progress"
)

// Notice is the message body published when a run finishes.
type Notice struct {
	RunID      string          `json:"runId"`
	Status     string          `json:"status"`
	FinishedAt time.Time       `json:"finishedAt"`
	Seconds    float64         `json:"durationSeconds"`
	Entries    int             `json:"entries"`
	Totals     progress.Totals `json:"totals"`
	Error      string          `json:"error,omitempty"`
}

// PubSubSink publishes a Notice for every finished run. Other stages are ignored.
type PubSubSink struct {
	topic  *pubsub.Topic
	client *pubsub.Client
	logger *zap.Logger
}

// NewPubSubSink publishes to an existing topic handle. The caller keeps ownership of
// the client behind it.
func NewPubSubSink(topic *pubsub.Topic, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{topic: topic, logger: logger}
}

// OpenPubSubSink dials Pub/Sub with application default credentials (or opts) and
// fails when the topic does not exist. The sink owns the client and closes it.
func OpenPubSubSink(ctx context.Context, projectID, topicID string, logger *zap.Logger, opts ...option.ClientOption) (*PubSubSink, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("pubsub sink requires project id and topic")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err == nil && !exists {
		err = fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	if err != nil {
		if closeErr := client.Close(); closeErr != nil && logger != nil {
			logger.Warn("close pubsub client", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic: %w", err)
	}
	sink := NewPubSubSink(topic, logger)
	sink.client = client
	return sink, nil
}

// Consume implements progress.Sink. It waits until every notice in the batch is
// acknowledged by the server.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	var results []*pubsub.PublishResult
	for _, evt := range batch {
		if !evt.Final() {
			continue
		}
		data, err := json.Marshal(noticeFor(evt))
		if err != nil {
			return fmt.Errorf("encode run notice: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"run_id": evt.RunID.String(),
				"stage":  string(evt.Stage),
			},
		}))
	}
	var errs []error
	for _, res := range results {
		id, err := res.Get(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Debug("run notice published", zap.String("message_id", id))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("publish run notice: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases an owned client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func noticeFor(evt progress.Event) Notice {
	status := "success"
	if evt.Stage == progress.StageRunError {
		status = "error"
	}
	return Notice{
		RunID:      evt.RunID.String(),
		Status:     status,
		FinishedAt: evt.TS.UTC(),
		Seconds:    evt.Dur.Seconds(),
		Entries:    evt.Entries,
		Totals:     evt.Totals,
		Error:      evt.Note,
	}
}
