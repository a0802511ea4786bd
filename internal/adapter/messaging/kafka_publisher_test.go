package messaging

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" kafka-1:9092, ,kafka-2:9092,")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if got := ParseBrokers(""); len(got) != 0 {
		t.Errorf("expected no brokers, got %v", got)
	}
}

func TestNewKafkaPublisher_Disabled(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "orders")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got: %v", err)
	}
}

func TestPublish_KeysByOrder(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w}

	err := p.Publish(context.Background(), "order-1", "order.placed", []byte(`{"order_id":"order-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "order-1" {
		t.Errorf("expected key order-1, got %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "order.placed" {
		t.Errorf("expected event_type header, got %v", msg.Headers)
	}
}

func TestPublish_PropagatesWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &recordingWriter{err: boom}}

	err := p.Publish(context.Background(), "k", "order.placed", nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected writer error, got: %v", err)
	}
}
