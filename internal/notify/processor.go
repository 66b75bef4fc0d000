// Package notify consumes notification jobs from Kafka and delivers mail.
package notify

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded jobs.
type Handler interface {
	Handle(context.Context, Job) error
}

// Job is the decoded representation of a record produced by the outbox
// dispatcher.
type Job struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	EventType string
	TenantID  string
	SchemaID  int
	Payload   json.RawMessage
}

// Option configures optional processor behaviour.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// Processor pulls records from Kafka, decodes the Confluent framing, and
// dispatches jobs to a Handler. Offsets commit only after the handler
// succeeds, except for undecodable records which are committed and skipped to
// avoid poison-pill loops.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[notify] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks processing jobs until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		job, decodeErr := decodeJob(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, job); handleErr != nil {
			p.logger.Printf("handler error (event_type=%s, tenant=%s): %v", job.EventType, job.TenantID, handleErr)
			recordHandlerError(job)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(job)
		}
	}
}

func decodeJob(msg kafka.Message) (Job, error) {
	if len(msg.Value) < 5 {
		return Job{}, fmt.Errorf("invalid payload length: %d", len(msg.Value))
	}

	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Job{}, errors.New("missing event_type header")
	}
	tenantID, _ := headerValue(msg, "tenant_id")

	return Job{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		EventType: string(eventType),
		TenantID:  string(tenantID),
		SchemaID:  int(binary.BigEndian.Uint32(msg.Value[1:5])),
		Payload:   json.RawMessage(append([]byte(nil), msg.Value[5:]...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
