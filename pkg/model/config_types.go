package model

import (
	"net/url"
	"strings"
)

// ReaderType identifies reader hardware models.
type ReaderType string

const (
	ReaderTypeXArray     ReaderType = "XARRAY"
	ReaderTypeXSpan      ReaderType = "XSPAN"
	ReaderTypeSpeedwayR4 ReaderType = "SPEEDWAY"
)

// Placement is a reader's position and orientation within a facility.
type Placement struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Floor string  `json:"floor,omitempty"`
}

// ReaderDefinition is the body of the reader definition create call.
type ReaderDefinition struct {
	Name       string     `json:"name"`
	Address    string     `json:"address"`
	Type       ReaderType `json:"type"`
	Placement  Placement  `json:"placement"`
	Facility   string     `json:"facility"`
	ReaderZone string     `json:"readerZone"`
}

// ZoneTransitionQueueConfig selects which zone transitions are published to
// a message queue.
type ZoneTransitionQueueConfig struct {
	FromZone string `json:"fromZone,omitempty"`
	ToZone   string `json:"toZone,omitempty"`
	EPC      string `json:"epc,omitempty"`
}

// QueueDetails locates the queue created by a message queue configure call.
type QueueDetails struct {
	ServerURL string `json:"serverUrl"`
	Queue     string `json:"queue"`
}

// AMQPURL returns ServerURL with credentials embedded, ready to dial.
// The platform reports URLs such as "amqp://host:5672/%2F".
func (q QueueDetails) AMQPURL(username, password string) (string, error) {
	raw := strings.TrimSpace(q.ServerURL)
	if !strings.Contains(raw, "://") {
		raw = "amqp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	return u.String(), nil
}
