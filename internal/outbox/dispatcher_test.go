package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/du6/yourlittleone/internal/events"
)

type stubProducer struct {
	writes map[string][]kafka.Message
}

func (p *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	if p.writes == nil {
		p.writes = make(map[string][]kafka.Message)
	}
	p.writes[topic] = append(p.writes[topic], msgs...)
	return nil
}

type stubRegistry struct {
	id    int
	calls int
}

func (r *stubRegistry) EnsureSchema(ctx context.Context, subject, schema string) (int, error) {
	r.calls++
	return r.id, nil
}

func TestDeliverAppliesWireFormatAndHeaders(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 7}
	dispatcher := NewDispatcher(nil, producer, registry, 0, 10)

	payload, err := json.Marshal(events.ConfirmationEmailJob{JobID: "job-1", Recipient: "alice@example.com"})
	require.NoError(t, err)

	jobs := []Job{{
		EventID:       1,
		TenantID:      "tenant-1",
		AggregateID:   "job-1",
		EventType:     events.EventTypeConfirmationEmail,
		Topic:         events.TopicNotificationJobs,
		SchemaSubject: events.TopicNotificationJobs + "-value",
		PartitionKey:  "alice@example.com",
		Payload:       payload,
	}}

	require.NoError(t, dispatcher.deliver(context.Background(), jobs))

	records := producer.writes[events.TopicNotificationJobs]
	require.Len(t, records, 1)

	record := records[0]
	require.Equal(t, []byte("alice@example.com"), record.Key)
	require.Equal(t, byte(0), record.Value[0])
	require.Equal(t, uint32(7), binary.BigEndian.Uint32(record.Value[1:5]))
	require.JSONEq(t, string(payload), string(record.Value[5:]))

	headers := map[string]string{}
	for _, header := range record.Headers {
		headers[header.Key] = string(header.Value)
	}
	require.Equal(t, events.EventTypeConfirmationEmail, headers["event_type"])
	require.Equal(t, "tenant-1", headers["tenant_id"])
}

func TestDeliverRejectsUnknownEventType(t *testing.T) {
	dispatcher := NewDispatcher(nil, &stubProducer{}, &stubRegistry{id: 7}, 0, 10)

	err := dispatcher.deliver(context.Background(), []Job{{
		EventType: "something.else",
		Topic:     events.TopicNotificationJobs,
	}})
	require.Error(t, err)
}

func TestSchemaIDIsCachedPerSubject(t *testing.T) {
	registry := &stubRegistry{id: 7}
	dispatcher := NewDispatcher(nil, &stubProducer{}, registry, 0, 10)

	for i := 0; i < 3; i++ {
		id, err := dispatcher.schemaID(context.Background(), "subject-a", confirmationEmailSchema)
		require.NoError(t, err)
		require.Equal(t, 7, id)
	}
	require.Equal(t, 1, registry.calls)
}

func TestRegistryClientRegistersWhenSubjectMissing(t *testing.T) {
	var registered bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			http.NotFound(w, r)
		case r.Method == http.MethodPost:
			registered = true
			require.Equal(t, "/subjects/notification_jobs-value/versions", r.URL.Path)
			w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
			_, _ = w.Write([]byte(`{"id": 11}`))
		}
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	id, err := client.EnsureSchema(context.Background(), "notification_jobs-value", confirmationEmailSchema)
	require.NoError(t, err)
	require.Equal(t, 11, id)
	require.True(t, registered)
}

func TestRegistryClientPrefersLatestVersion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`{"id": 4}`))
	}))
	defer server.Close()

	client := NewRegistryClient(server.URL)
	id, err := client.EnsureSchema(context.Background(), "notification_jobs-value", confirmationEmailSchema)
	require.NoError(t, err)
	require.Equal(t, 4, id)
}

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(259, []byte(`{"a":1}`))
	require.Equal(t, byte(0), frame[0])
	require.Equal(t, uint32(259), binary.BigEndian.Uint32(frame[1:5]))
	require.Equal(t, `{"a":1}`, string(frame[5:]))
}
