package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var ErrPublisherRejected = errors.New("publisher rejected message")

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type PublisherConfig struct {
	Kind         string
	KafkaBrokers []string
	KafkaTopic   string
	WebhookURL   string
	WebhookToken string
}

// NewPublisher builds the publisher named by cfg.Kind: log (default), noop,
// fail, webhook or kafka.
func NewPublisher(cfg PublisherConfig, logger zerolog.Logger) (Publisher, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "log":
		return logPublisher{logger: logger.With().Str("component", "notify").Logger()}, nil
	case "noop":
		return noopPublisher{}, nil
	case "fail":
		return failPublisher{}, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, errors.New("webhook publisher requires a url")
		}
		return &webhookPublisher{url: cfg.WebhookURL, token: cfg.WebhookToken, client: &http.Client{Timeout: 5 * time.Second}}, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, errors.New("kafka publisher requires brokers and a topic")
		}
		return NewKafkaPublisher(&kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.KafkaTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}), nil
	default:
		return nil, fmt.Errorf("unknown notification publisher %q", cfg.Kind)
	}
}

type logPublisher struct {
	logger zerolog.Logger
}

func (p logPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.Info().
		Str("event_id", msg.EventID).
		Str("template", msg.Template).
		Str("patient_id", msg.PatientID).
		Str("appointment_id", msg.AppointmentID).
		Msg(msg.Body)
	return nil
}

func (logPublisher) Close() error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, msg Message) error { return nil }
func (noopPublisher) Close() error                                   { return nil }

type failPublisher struct{}

func (failPublisher) Publish(ctx context.Context, msg Message) error { return ErrPublisherRejected }
func (failPublisher) Close() error                                   { return nil }

type webhookPublisher struct {
	url    string
	token  string
	client *http.Client
}

func (p *webhookPublisher) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", msg.EventID)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrPublisherRejected, resp.StatusCode)
	}
	return nil
}

func (p *webhookPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one record per notification, keyed by patient so a
// patient's notifications stay on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.PatientID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(msg.EventID)},
			{Key: "event_type", Value: []byte(msg.EventType)},
		},
		Time: msg.CreatedAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
