// Package events publishes one access event per handled request.
package events

import "time"

// AccessEvent describes a single handled request.
type AccessEvent struct {
	ConnID   string        `json:"conn_id"`
	Method   string        `json:"method,omitempty"`
	Path     string        `json:"path,omitempty"`
	Status   int           `json:"status"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
	Remote   string        `json:"remote,omitempty"`
	Time     time.Time     `json:"time"`
}

// AccessPublisher ships access events somewhere. Implementations must be
// safe for concurrent use; every pool worker publishes.
type AccessPublisher interface {
	Publish(event AccessEvent) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(AccessEvent) error { return nil }
func (NopPublisher) Close() error { return nil }
