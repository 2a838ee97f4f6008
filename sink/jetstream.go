package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/GreatPyreneseDad/ECNE-sub001/errors"
	"github.com/GreatPyreneseDad/ECNE-sub001/pkg/retry"
	"github.com/GreatPyreneseDad/ECNE-sub001/point"
)

// StreamPublisher is the slice of the NATS client the sink needs.
// natsclient.Client satisfies it.
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// JetStreamConfig configures the durable sink
type JetStreamConfig struct {
	// StreamName is the JetStream stream holding filtered points
	StreamName string
	// SubjectPrefix prefixes per-source subjects, e.g. "ecne.filtered"
	SubjectPrefix string
	// MaxAge bounds stream retention; zero keeps the server default
	MaxAge time.Duration
	// MaxMsgs bounds stream size; zero keeps the server default
	MaxMsgs int64
	// Retry controls publish retries before the store counts as failed
	Retry retry.Config
}

// DefaultJetStreamConfig returns production defaults
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		StreamName:    "ECNE_FILTERED",
		SubjectPrefix: "ecne.filtered",
		MaxAge:        24 * time.Hour,
		Retry:         retry.Quick(),
	}
}

// JetStreamSink persists filtered points to a JetStream stream, one
// subject per source.
type JetStreamSink struct {
	cfg       JetStreamConfig
	publisher StreamPublisher
	logger    *slog.Logger
}

// NewJetStreamSink creates the sink. Call EnsureStream before first use.
func NewJetStreamSink(cfg JetStreamConfig, publisher StreamPublisher, logger *slog.Logger) (*JetStreamSink, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: stream publisher required", errors.ErrInvalidConfig),
			"JetStreamSink", "NewJetStreamSink", "validate publisher")
	}
	if cfg.StreamName == "" || cfg.SubjectPrefix == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: stream name and subject prefix required", errors.ErrInvalidConfig),
			"JetStreamSink", "NewJetStreamSink", "validate config")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Quick()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &JetStreamSink{cfg: cfg, publisher: publisher, logger: logger}, nil
}

// Name identifies the sink
func (s *JetStreamSink) Name() string { return "jetstream" }

// EnsureStream creates or updates the backing stream
func (s *JetStreamSink) EnsureStream(ctx context.Context) error {
	_, err := s.publisher.CreateStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.StreamName,
		Subjects: []string{s.cfg.SubjectPrefix + ".>"},
		MaxAge:   s.cfg.MaxAge,
		MaxMsgs:  s.cfg.MaxMsgs,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return errors.Wrap(err, "JetStreamSink", "EnsureStream",
			fmt.Sprintf("create stream %s", s.cfg.StreamName))
	}

	s.logger.Info("filtered-point stream ready",
		"stream", s.cfg.StreamName,
		"subjects", s.cfg.SubjectPrefix+".>")
	return nil
}

// Store publishes the point, retrying transient publish failures. A
// point that cannot be published after retries fails with
// ErrSinkFailure.
func (s *JetStreamSink) Store(ctx context.Context, fp point.FilteredDataPoint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err),
			"JetStreamSink", "Store", "encode point")
	}

	subject := fmt.Sprintf("%s.%s", s.cfg.SubjectPrefix, subjectToken(fp.Source))

	err = retry.Do(ctx, s.cfg.Retry, func() error {
		return s.publisher.PublishToStream(ctx, subject, data)
	})
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: publish to %s: %v", errors.ErrSinkFailure, subject, err),
			"JetStreamSink", "Store", "publish point")
	}
	return nil
}

// subjectToken sanitizes a source name into a valid NATS subject token
func subjectToken(source string) string {
	if source == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>':
			return '-'
		default:
			return r
		}
	}, source)
}
