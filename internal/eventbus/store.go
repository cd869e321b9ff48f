package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// RunStream holds run lifecycle events
	RunStream = "RUNS"
	// RunSubjects matches runs.<event>.<run id>
	RunSubjects = "runs.>"
)

// Run event subjects are suffixed with the run id
const (
	SubjectRunStarted   = "runs.started"
	SubjectRunProgress  = "runs.progress"
	SubjectRunCompleted = "runs.completed"
)

// RunSubject returns the subject for one run's event
func RunSubject(event, runID string) string {
	return event + "." + runID
}

// RunHistorySubject matches every event of one run
func RunHistorySubject(runID string) string {
	return "runs.*." + runID
}

// Event is a stored message with its metadata
type Event struct {
	Sequence  uint64          `json:"sequence"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// JetStreamStore is an append-only event log backed by one JetStream stream
type JetStreamStore struct {
	js     nats.JetStreamContext
	stream string
}

// NewJetStreamStore creates the stream if it does not exist yet
func NewJetStreamStore(js nats.JetStreamContext, stream, subjects string) (*JetStreamStore, error) {
	if js == nil {
		return nil, errors.New("JetStream context not initialized")
	}
	if _, err := js.StreamInfo(stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info %s: %w", stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     stream,
			Subjects: []string{subjects},
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("add stream %s: %w", stream, err)
		}
	}
	return &JetStreamStore{js: js, stream: stream}, nil
}

// Append publishes data as JSON and waits for the stream ack
func (s *JetStreamStore) Append(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.js.Publish(subject, payload)
	return err
}

// Read returns the stored events on subject, oldest first
func (s *JetStreamStore) Read(subject string) ([]Event, error) {
	sub, err := s.js.SubscribeSync(subject, nats.BindStream(s.stream), nats.DeliverAll(), nats.AckNone())
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var events []Event
	for {
		msg, err := sub.NextMsg(100 * time.Millisecond)
		if errors.Is(err, nats.ErrTimeout) {
			break
		}
		if err != nil {
			return events, err
		}
		ev := Event{Subject: msg.Subject, Data: json.RawMessage(msg.Data), Timestamp: time.Now().UTC()}
		if meta, err := msg.Metadata(); err == nil {
			ev.Sequence = meta.Sequence.Stream
			ev.Timestamp = meta.Timestamp
		}
		events = append(events, ev)
	}
	return events, nil
}
