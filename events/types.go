// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"aiops-engine/model"
)

// EventType represents the type of AIOps engine event streamed to
// subscribers over the event bus / websocket.
type EventType string

const (
	EventAnomalyLatency EventType = "anomaly.latency"
	EventAnomalyError   EventType = "anomaly.error_spike"
	EventAnomalySilence EventType = "anomaly.silence"

	EventIncidentCreated  EventType = "incident.created"
	EventIncidentResolved EventType = "incident.resolved"

	EventTickCompleted EventType = "engine.tick_completed"
	EventTickFailed    EventType = "engine.tick_failed"
)

// Severity mirrors model.Severity but widened with "info" for purely
// informational events (e.g. a clean tick) that have no anomaly severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func fromModelSeverity(s model.Severity) Severity {
	switch s {
	case model.SeverityLow:
		return SeverityLow
	case model.SeverityMedium:
		return SeverityMedium
	case model.SeverityHigh:
		return SeverityHigh
	case model.SeverityCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event is one entry on the event bus / live stream.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	Endpoint   string                 `json:"endpoint,omitempty"`
	IncidentID string                 `json:"incident_id,omitempty"`
	Severity   Severity               `json:"severity"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Source     string                 `json:"source"`
}

// NewEvent creates a new event with a generated id and current timestamp.
func NewEvent(eventType EventType, endpoint string, severity model.Severity, message string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Endpoint:  endpoint,
		Severity:  fromModelSeverity(severity),
		Message:   message,
		Source:    "aiops-engine",
		Details:   make(map[string]interface{}),
	}
}

// WithDetails merges extra key/value detail into the event.
func (e *Event) WithDetails(details map[string]interface{}) *Event {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithIncidentID attaches the incident id this event is about.
func (e *Event) WithIncidentID(id string) *Event {
	e.IncidentID = id
	return e
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an event.
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// AnomalyEventType maps an anomaly kind to its corresponding event type.
func AnomalyEventType(kind model.AnomalyKind) EventType {
	switch kind {
	case model.KindLatency:
		return EventAnomalyLatency
	case model.KindError:
		return EventAnomalyError
	default:
		return EventAnomalySilence
	}
}
