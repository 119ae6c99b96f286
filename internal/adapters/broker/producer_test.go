package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"pandaconnect/internal/domain/event"
)

type capturedPublish struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	got []capturedPublish
	err error // returned instead of accepting the message
}

func (f *fakeChannel) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, capturedPublish{exchange, key, msg})
	return nil
}

// fakeBroker hands out channels in order and counts dials and closes.
type fakeBroker struct {
	channels []*fakeChannel
	dialErr  error
	dials    int
	closes   int
}

func (b *fakeBroker) dial() (publisher, func(), error) {
	if b.dialErr != nil {
		return nil, nil, b.dialErr
	}
	ch := b.channels[b.dials]
	b.dials++
	return ch, func() { b.closes++ }, nil
}

func brokerProducer(b *fakeBroker) *Producer {
	p := NewProducer("amqp://localhost", "")
	p.dial = b.dial
	return p
}

func TestProducer_Publish(t *testing.T) {
	at := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	ch := &fakeChannel{}
	p := NewProducer("amqp://localhost", "")
	p.channel = ch
	p.now = func() time.Time { return at }

	e := event.Event{ID: "e1", Title: "Book Fair", Date: "2025-03-04", Time: "09:00"}
	if err := p.Publish(context.Background(), "event.created", e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(ch.got) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(ch.got))
	}
	got := ch.got[0]
	if got.exchange != DefaultExchange || got.key != "event.created" {
		t.Errorf("routed to %s/%s", got.exchange, got.key)
	}
	if got.msg.ContentType != "application/json" || got.msg.DeliveryMode != amqp.Persistent {
		t.Errorf("unexpected publishing headers: %+v", got.msg)
	}
	var m Message
	if err := json.Unmarshal(got.msg.Body, &m); err != nil {
		t.Fatalf("body: %v", err)
	}
	if m.Name != "event.created" || m.Event.ID != "e1" || !m.OccurredAt.Equal(at) {
		t.Errorf("unexpected message %+v", m)
	}
}

func TestProducer_PublishDialFails(t *testing.T) {
	p := brokerProducer(&fakeBroker{dialErr: errors.New("connection refused")})
	if err := p.Publish(context.Background(), "event.deleted", event.Event{ID: "e1"}); err == nil {
		t.Fatal("expected error while the broker is unreachable")
	}
}

// TestProducer_RedialsClosedConnection tests that a publish on a dead connection redials and delivers.
func TestProducer_RedialsClosedConnection(t *testing.T) {
	dead := &fakeChannel{err: amqp.ErrClosed}
	fresh := &fakeChannel{}
	b := &fakeBroker{channels: []*fakeChannel{dead, fresh}}
	p := brokerProducer(b)
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := p.Publish(context.Background(), "event.updated", event.Event{ID: "e1"}); err != nil {
		t.Fatalf("Publish after connection loss: %v", err)
	}
	if b.dials != 2 || b.closes != 1 {
		t.Errorf("dials = %d, closes = %d; want 2, 1", b.dials, b.closes)
	}
	if len(fresh.got) != 1 || fresh.got[0].key != "event.updated" {
		t.Errorf("fresh channel got %+v", fresh.got)
	}
}

// TestProducer_RecoversAfterOutage tests that the producer delivers again once the broker is back.
func TestProducer_RecoversAfterOutage(t *testing.T) {
	first, second := &fakeChannel{}, &fakeChannel{}
	b := &fakeBroker{channels: []*fakeChannel{first, second}}
	p := brokerProducer(b)
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Connection-close notification arrives; the broker is down for the next publish.
	p.invalidate(first)
	b.dialErr = errors.New("connection refused")
	if err := p.Publish(context.Background(), "event.created", event.Event{ID: "e1"}); err == nil {
		t.Fatal("expected error during the outage")
	}

	b.dialErr = nil
	if err := p.Publish(context.Background(), "event.created", event.Event{ID: "e1"}); err != nil {
		t.Fatalf("Publish after outage: %v", err)
	}
	if len(second.got) != 1 || len(first.got) != 0 {
		t.Errorf("first=%d second=%d publishes", len(first.got), len(second.got))
	}
}

func TestProducer_PublishAfterClose(t *testing.T) {
	b := &fakeBroker{channels: []*fakeChannel{{}}}
	p := brokerProducer(b)
	if err := p.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	p.Close()
	if err := p.Publish(context.Background(), "event.created", event.Event{ID: "e1"}); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("err = %v, want ErrProducerClosed", err)
	}
	if b.dials != 1 {
		t.Errorf("closed producer must not redial, dials = %d", b.dials)
	}
}

func TestProducer_PublishCanceled(t *testing.T) {
	ch := &fakeChannel{}
	p := NewProducer("amqp://localhost", "x")
	p.channel = ch
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, "event.updated", event.Event{ID: "e1"}); err == nil {
		t.Fatal("expected context error")
	}
	if len(ch.got) != 0 {
		t.Error("nothing should be published")
	}
}

func TestProducer_OpenRequiresDSN(t *testing.T) {
	if err := NewProducer("", "").Open(); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
