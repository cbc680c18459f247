// Package events publishes idea-generation analytics events. Publishing is
// best effort and never blocks or fails a generation request.
package events

import (
	"time"
)

type Type string

const (
	GenerationSucceeded Type = "generation_succeeded"
	GenerationFailed    Type = "generation_failed"
)

// GenerationEvent describes one finished generation request.
type GenerationEvent struct {
	Type             Type      `json:"type"`
	RequestID        string    `json:"request_id,omitempty"`
	UserID           string    `json:"user_id"`
	Tier             string    `json:"tier,omitempty"`
	Mode             string    `json:"mode"`
	SourceURL        string    `json:"source_url,omitempty"`
	IdeaCount        int       `json:"idea_count"`
	IdeaIDs          []int64   `json:"idea_ids,omitempty"`
	CreditsRemaining *int      `json:"credits_remaining,omitempty"`
	Error            string    `json:"error,omitempty"`
	LatencyMs        int64     `json:"latency_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Track(GenerationEvent)
}

// Noop discards every event. It is used when Kafka is disabled.
type Noop struct{}

func (Noop) Track(GenerationEvent) {}
