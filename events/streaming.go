// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package events

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"aiops-engine/logger"

	"github.com/gorilla/websocket"
)

// EventFilter narrows which events a subscriber receives.
type EventFilter struct {
	EventTypes []EventType `json:"event_types,omitempty"`
	Endpoints  []string    `json:"endpoints,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	Since      *time.Time  `json:"since,omitempty"`
}

// StreamConfig configures the live event stream.
type StreamConfig struct {
	MaxConnections    int
	ConnectionTimeout time.Duration
	BufferSize        int
}

// DefaultStreamConfig returns sane defaults for the live stream.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxConnections:    100,
		ConnectionTimeout: 90 * time.Second,
		BufferSize:        64,
	}
}

// connection is one open /aiops/stream websocket.
type connection struct {
	id       string
	conn     *websocket.Conn
	send     chan *Event
	filter   *EventFilter
	lastPing time.Time
}

// Stream serves the /aiops/stream websocket endpoint, fanning out events
// published on an EventBus. Mounted into the main API server's mux rather
// than listening on its own port.
type Stream struct {
	mu          sync.RWMutex
	connections map[string]*connection
	bus         *EventBus
	upgrader    websocket.Upgrader
	config      StreamConfig
}

// NewStream creates a Stream subscribed to bus.
func NewStream(bus *EventBus, config StreamConfig) *Stream {
	s := &Stream{
		connections: make(map[string]*connection),
		bus:         bus,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			WriteBufferSize: 1024,
			ReadBufferSize:  1024,
		},
		config: config,
	}
	bus.Subscribe("stream", s.handleEvent)
	return s
}

// ServeHTTP upgrades the connection and begins streaming events that match
// the caller's query-string filter (event_type, endpoint, severity,
// repeatable).
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	count := len(s.connections)
	s.mu.RUnlock()
	if count >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade stream connection: %v", err)
		return
	}

	c := &connection{
		id:       fmt.Sprintf("conn-%d", time.Now().UnixNano()),
		conn:     conn,
		send:     make(chan *Event, s.config.BufferSize),
		filter:   filterFromQuery(r),
		lastPing: time.Now(),
	}

	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()

	logger.Info("stream client connected: %s (total: %d)", c.id, len(s.connections))

	go s.readLoop(c)
	go s.writeLoop(c)
}

func filterFromQuery(r *http.Request) *EventFilter {
	q := r.URL.Query()
	filter := &EventFilter{}
	for _, t := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(t))
	}
	filter.Endpoints = append(filter.Endpoints, q["endpoint"]...)
	for _, sv := range q["severity"] {
		filter.Severities = append(filter.Severities, Severity(sv))
	}
	return filter
}

func (s *Stream) readLoop(c *connection) {
	defer func() {
		s.removeConnection(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.config.ConnectionTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.lastPing = time.Now()
		return c.conn.SetReadDeadline(time.Now().Add(s.config.ConnectionTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) writeLoop(c *connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := event.ToJSON()
			if err != nil {
				logger.Error("failed to serialize stream event: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) handleEvent(event *Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.connections {
		if !matchesClientFilter(c.filter, event) {
			continue
		}
		select {
		case c.send <- event:
		default:
			go s.removeConnection(c.id)
		}
	}
}

func matchesClientFilter(filter *EventFilter, event *Event) bool {
	if filter == nil {
		return true
	}
	if len(filter.EventTypes) > 0 {
		found := false
		for _, t := range filter.EventTypes {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Endpoints) > 0 {
		found := false
		for _, e := range filter.Endpoints {
			if e == event.Endpoint {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Severities) > 0 {
		found := false
		for _, sv := range filter.Severities {
			if sv == event.Severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Stream) removeConnection(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, exists := s.connections[id]; exists {
		close(c.send)
		delete(s.connections, id)
		logger.Info("stream client disconnected: %s (remaining: %d)", id, len(s.connections))
	}
}

// ConnectionCount returns the number of currently open stream connections.
func (s *Stream) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// CleanupStale closes connections that have not been pinged within the
// configured timeout. Intended to be run periodically by the caller
// (e.g. from the scheduler's goroutine, on the same cadence as a tick).
func (s *Stream) CleanupStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.connections {
		if time.Since(c.lastPing) > s.config.ConnectionTimeout {
			_ = c.conn.Close()
			close(c.send)
			delete(s.connections, id)
		}
	}
}
