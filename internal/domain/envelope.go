package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is carried in every envelope's metadata so clients can detect drift.
const ProtocolVersion = "1.0.0"

// Category separates provider events from stream housekeeping.
type Category string

const (
	CategoryDomain Category = "livekit"
	CategorySystem Category = "system"
)

// Source records where an envelope originated.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceInternal Source = "internal"
)

// Domain event names advertised to clients in the connected envelope.
const (
	EventRoomStarted       = "room_started"
	EventRoomFinished      = "room_finished"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventTrackPublished    = "track_published"
	EventTrackUnpublished  = "track_unpublished"
)

// System event names.
const (
	SystemConnected    = "connected"
	SystemDisconnected = "disconnected"
	SystemHeartbeat    = "heartbeat"
	SystemError        = "error"
)

// SupportedEvents returns the domain event names the server may emit.
func SupportedEvents() []string {
	return []string{
		EventRoomStarted,
		EventRoomFinished,
		EventParticipantJoined,
		EventParticipantLeft,
		EventTrackPublished,
		EventTrackUnpublished,
	}
}

// Envelope is the canonical unit of real-time event data. Treat it as immutable
// once constructed.
type Envelope struct {
	ID        string   `json:"id"`
	Category  Category `json:"type"`
	Event     string   `json:"event"`
	Timestamp int64    `json:"timestamp"`
	Data      Payload  `json:"data"`
	Metadata  Metadata `json:"metadata"`
}

type Metadata struct {
	Source  Source `json:"source"`
	Version string `json:"version"`
}

// Payload holds the category-specific sub-shapes. Absent sub-objects stay nil
// and are omitted on the wire.
type Payload struct {
	Room        *RoomData        `json:"room,omitempty"`
	Participant *ParticipantData `json:"participant,omitempty"`
	Track       *TrackData       `json:"track,omitempty"`

	ConnectionID    string     `json:"connectionId,omitempty"`
	ServerVersion   string     `json:"serverVersion,omitempty"`
	SupportedEvents []string   `json:"supportedEvents,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Error           *ErrorData `json:"error,omitempty"`
}

type RoomData struct {
	SID             string  `json:"sid"`
	Name            string  `json:"name"`
	EmptyTimeout    *uint32 `json:"emptyTimeout,omitempty"`
	MaxParticipants *uint32 `json:"maxParticipants,omitempty"`
	CreationTime    *int64  `json:"creationTime,omitempty"`
	Metadata        string  `json:"metadata,omitempty"`
	NumParticipants *uint32 `json:"numParticipants,omitempty"`
	ActiveRecording bool    `json:"activeRecording"`
}

type ParticipantData struct {
	SID         string `json:"sid"`
	Identity    string `json:"identity"`
	Name        string `json:"name,omitempty"`
	State       string `json:"state,omitempty"`
	Metadata    string `json:"metadata,omitempty"`
	JoinedAt    *int64 `json:"joinedAt,omitempty"`
	IsPublisher bool   `json:"isPublisher"`
}

type TrackData struct {
	SID    string `json:"sid"`
	Type   string `json:"type"`
	Source string `json:"source,omitempty"`
	Muted  bool   `json:"muted"`
}

// Severity values for ErrorData.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

type ErrorData struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// NewSystemEnvelope builds an internal system envelope with a fresh UUID.
func NewSystemEnvelope(event string, data Payload, now time.Time) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Category:  CategorySystem,
		Event:     event,
		Timestamp: now.UnixMilli(),
		Data:      data,
		Metadata:  Metadata{Source: SourceInternal, Version: ProtocolVersion},
	}
}

// IsSystem reports whether the envelope is stream housekeeping rather than a provider event.
func (e Envelope) IsSystem() bool {
	return e.Category == CategorySystem
}

// RoomName returns the affected room name, or "" when the payload names no room.
func (e Envelope) RoomName() string {
	if e.Data.Room == nil {
		return ""
	}
	return e.Data.Room.Name
}

// ParticipantIdentity returns the affected participant identity, or "".
func (e Envelope) ParticipantIdentity() string {
	if e.Data.Participant == nil {
		return ""
	}
	return e.Data.Participant.Identity
}
