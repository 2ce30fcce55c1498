// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventBusBasic(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	received := make(chan *Event, 1)
	bus.Subscribe("tester", func(ev *Event) { received <- ev })
	bus.Publish(&Event{ID: "1", Type: EventIncidentCreated, Endpoint: "/payment"})

	select {
	case ev := <-received:
		assert.Equal(t, EventIncidentCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("did not receive event")
	}

	bus.Unsubscribe("tester")
	assert.Equal(t, 0, bus.Stats().Subscribers)
}

func TestEventBusSubscribeChannelFiltersByEventType(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	ch := make(chan *Event, 5)
	filter := EventFilter{EventTypes: []EventType{EventAnomalyLatency}}
	bus.SubscribeChannel(&filter, ch)

	bus.Publish(&Event{ID: "1", Type: EventAnomalyLatency, Endpoint: "/payment"})
	bus.Publish(&Event{ID: "2", Type: EventAnomalyError, Endpoint: "/payment"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventAnomalyLatency, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("did not receive matching event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("received unexpected event: %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBusPublishAsync(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	received := make(chan *Event, 1)
	bus.Subscribe("async-tester", func(ev *Event) { received <- ev })

	event := &Event{ID: "1", Type: EventTickCompleted}
	bus.PublishAsync(event)

	select {
	case ev := <-received:
		assert.Equal(t, event.ID, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("did not receive async event")
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	received1 := make(chan *Event, 1)
	received2 := make(chan *Event, 1)
	bus.Subscribe("sub1", func(ev *Event) { received1 <- ev })
	bus.Subscribe("sub2", func(ev *Event) { received2 <- ev })

	bus.Publish(&Event{ID: "1", Type: EventTickCompleted})

	select {
	case <-received1:
	case <-time.After(time.Second):
		t.Fatal("subscriber 1 did not receive event")
	}
	select {
	case <-received2:
	case <-time.After(time.Second):
		t.Fatal("subscriber 2 did not receive event")
	}
}

func TestEventBusFilterByEndpoint(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	ch := make(chan *Event, 5)
	filter := EventFilter{Endpoints: []string{"/payment"}}
	bus.SubscribeChannel(&filter, ch)

	bus.Publish(&Event{ID: "1", Type: EventAnomalyError, Endpoint: "/payment"})
	bus.Publish(&Event{ID: "2", Type: EventAnomalyError, Endpoint: "/inventory"})

	select {
	case ev := <-ch:
		assert.Equal(t, "/payment", ev.Endpoint)
	case <-time.After(time.Second):
		t.Fatal("did not receive endpoint-filtered event")
	}
}

func TestEventBusFilterBySeverity(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	ch := make(chan *Event, 5)
	filter := EventFilter{Severities: []Severity{SeverityHigh, SeverityCritical}}
	bus.SubscribeChannel(&filter, ch)

	bus.Publish(&Event{ID: "1", Type: EventAnomalyError, Severity: SeverityHigh})
	bus.Publish(&Event{ID: "2", Type: EventTickCompleted, Severity: SeverityInfo})
	bus.Publish(&Event{ID: "3", Type: EventIncidentCreated, Severity: SeverityCritical})

	select {
	case ev := <-ch:
		assert.Equal(t, SeverityHigh, ev.Severity)
	case <-time.After(time.Second):
		t.Fatal("did not receive first severity-filtered event")
	}
	select {
	case ev := <-ch:
		assert.Equal(t, SeverityCritical, ev.Severity)
	case <-time.After(time.Second):
		t.Fatal("did not receive second severity-filtered event")
	}
}

func TestEventBusStats(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	assert.Equal(t, 0, bus.Stats().Subscribers)

	bus.Subscribe("sub1", func(ev *Event) {})
	bus.Subscribe("sub2", func(ev *Event) {})

	assert.Equal(t, 2, bus.Stats().Subscribers)
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Stop()

	received := make(chan *Event, 5)
	bus.Subscribe("unsub-test", func(ev *Event) { received <- ev })

	bus.Publish(&Event{ID: "1", Type: EventTickCompleted})
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("did not receive event before unsubscribe")
	}

	bus.Unsubscribe("unsub-test")
	bus.Publish(&Event{ID: "2", Type: EventTickCompleted})

	select {
	case ev := <-received:
		t.Fatalf("received event after unsubscribe: %s", ev.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBusStop(t *testing.T) {
	bus := NewEventBus(10)

	received := make(chan *Event, 1)
	bus.Subscribe("stop-test", func(ev *Event) { received <- ev })
	bus.Publish(&Event{ID: "1", Type: EventTickCompleted})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("did not receive event before stop")
	}

	bus.Stop()

	assert.NotPanics(t, func() {
		bus.Publish(&Event{ID: "2", Type: EventTickCompleted})
	})
}
