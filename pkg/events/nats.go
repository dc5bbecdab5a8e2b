package events

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/webpool/pkg/core"
)

// ConnIDHeader carries the connection ID on every published message.
const ConnIDHeader = "X-Conn-ID"

const flushTimeout = 2 * time.Second

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher is closed")

// NATSConfig configures a NATSPublisher.
type NATSConfig struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string

	// Subject receives every event. Default: "webpool.access".
	Subject string

	// Name is an optional NATS connection name.
	Name string
}

// NATSPublisher publishes JSON-encoded access events to a NATS subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	closed  atomic.Bool
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "webpool.access"
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	return &NATSPublisher{nc: nc, subject: subject}, nil
}

// Subject returns the subject events are published on.
func (p *NATSPublisher) Subject() string {
	return p.subject
}

// Publish sends event without waiting for the server.
func (p *NATSPublisher) Publish(event AccessEvent) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	data, err := core.JSONEncode(event)
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  nats.Header{},
	}
	if event.ConnID != "" {
		msg.Header.Set(ConnIDHeader, event.ConnID)
	}
	return p.nc.PublishMsg(msg)
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.nc.FlushTimeout(flushTimeout); err != nil {
		p.nc.Close()
		return fmt.Errorf("flush nats: %w", err)
	}
	return p.nc.Drain()
}
