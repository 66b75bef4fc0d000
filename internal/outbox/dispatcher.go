// Package outbox persists notification jobs next to the business write and
// delivers them to Kafka after commit.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"github.com/du6/yourlittleone/internal/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Job is one row fetched from the outbox table.
type Job struct {
	EventID       int64
	TenantID      string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher drains the outbox table and publishes jobs to Kafka. Delivery is
// best effort: a batch that cannot be published is logged, counted, and
// dropped rather than blocking the queue, because a lost confirmation mail
// must never hold up registrations.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	pollInterval     time.Duration
	batchSize        int
	logger           *log.Logger
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		logger:           log.New(log.Writer(), "[outbox] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the polling loop. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the dispatcher has stopped.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	jobs, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if err := d.deliver(ctx, jobs); err != nil {
		d.logger.Printf("dropping %d undeliverable jobs: %v", len(jobs), err)
		droppedCounter.Add(float64(len(jobs)))
		return d.markPublished(ctx, jobs)
	}

	deliveredCounter.Add(float64(len(jobs)))
	return d.markPublished(ctx, jobs)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Job, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const query = `SELECT event_id, tenant_id, aggregate_id, event_type, topic, schema_subject, partition_key, payload
          FROM outbox
         WHERE published_at IS NULL
         ORDER BY event_id
         LIMIT $1
         FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var job Job
		if err := rows.Scan(&job.EventID, &job.TenantID, &job.AggregateID, &job.EventType,
			&job.Topic, &job.SchemaSubject, &job.PartitionKey, &job.Payload); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		ids = append(ids, job.EventID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (d *Dispatcher) deliver(ctx context.Context, jobs []Job) error {
	batches := make(map[string][]kafka.Message)

	for _, job := range jobs {
		schema, ok := schemaCatalog[job.EventType]
		if !ok {
			return fmt.Errorf("no schema for event_type=%s", job.EventType)
		}

		schemaID, err := d.schemaID(ctx, job.SchemaSubject, schema)
		if err != nil {
			return err
		}

		record := kafka.Message{
			Key:   []byte(job.PartitionKey),
			Value: encodeWireFormat(schemaID, job.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(job.EventType)},
				{Key: "tenant_id", Value: []byte(job.TenantID)},
				{Key: "schema_subject", Value: []byte(job.SchemaSubject)},
			},
		}
		batches[job.Topic] = append(batches[job.Topic], record)
	}

	for topic, records := range batches {
		if err := d.producer.WriteMessages(ctx, topic, records...); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	cacheKey := subject + "::" + schema
	if cached, ok := d.schemaIDCache.Load(cacheKey); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, jobs []Job) error {
	ids := make([]int64, len(jobs))
	for i, job := range jobs {
		ids[i] = job.EventID
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

var schemaCatalog = map[string]string{
	events.EventTypeConfirmationEmail: confirmationEmailSchema,
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
