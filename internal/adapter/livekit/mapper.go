package livekit

import (
	"fmt"
	"math"
	"time"

	"github.com/pscheid92/roomstream/internal/domain"
)

var (
	trackTypeNames        = []string{"AUDIO", "VIDEO", "DATA"}
	trackSourceNames      = []string{"UNKNOWN", "CAMERA", "MICROPHONE", "SCREEN_SHARE", "SCREEN_SHARE_AUDIO"}
	participantStateNames = []string{"JOINING", "JOINED", "ACTIVE", "DISCONNECTED"}

	trackTypes   = []string{"audio", "video", "data"}
	trackSources = []string{"", "camera", "microphone", "screen_share", "screen_share_audio"}
)

// toEnvelope converts a verified webhook event into a domain envelope.
// receivedAt supplies the id and timestamp when the provider omits them.
func toEnvelope(evt webhookEvent, receivedAt time.Time) domain.Envelope {
	env := domain.Envelope{
		ID:        evt.ID,
		Category:  domain.CategoryDomain,
		Event:     evt.Event,
		Timestamp: receivedAt.UnixMilli(),
		Metadata:  domain.Metadata{Source: domain.SourceWebhook, Version: domain.ProtocolVersion},
	}
	if env.ID == "" {
		env.ID = fmt.Sprintf("webhook_%d", receivedAt.UnixMilli())
	}
	if evt.CreatedAt.Valid && evt.CreatedAt.Value > 0 {
		env.Timestamp = evt.CreatedAt.Value * 1000
	}

	if evt.Room != nil {
		env.Data.Room = mapRoom(evt.Room)
	}
	if evt.Participant != nil {
		env.Data.Participant = mapParticipant(evt.Participant)
	}
	if evt.Track != nil {
		env.Data.Track = mapTrack(evt.Track)
	}
	return env
}

func mapRoom(r *roomInfo) *domain.RoomData {
	return &domain.RoomData{
		SID:             r.SID,
		Name:            r.Name,
		EmptyTimeout:    uint32Field(r.EmptyTimeout),
		MaxParticipants: uint32Field(r.MaxParticipants),
		CreationTime:    int64Field(r.CreationTime),
		Metadata:        r.Metadata,
		NumParticipants: uint32Field(r.NumParticipants),
		ActiveRecording: r.ActiveRecording,
	}
}

func mapParticipant(p *participantInfo) *domain.ParticipantData {
	data := &domain.ParticipantData{
		SID:         p.SID,
		Identity:    p.Identity,
		Name:        p.Name,
		Metadata:    p.Metadata,
		JoinedAt:    int64Field(p.JoinedAt),
		IsPublisher: p.IsPublisher,
	}
	if code, ok := p.State.resolve(participantStateNames); ok && int(code) < len(participantStateNames) && code >= 0 {
		data.State = participantStateNames[code]
	}
	return data
}

func mapTrack(t *trackInfo) *domain.TrackData {
	data := &domain.TrackData{
		SID:   t.SID,
		Type:  "data",
		Muted: t.Muted,
	}
	if code, ok := t.Type.resolve(trackTypeNames); ok && code >= 0 && int(code) < len(trackTypes) {
		data.Type = trackTypes[code]
	}
	if code, ok := t.Source.resolve(trackSourceNames); ok && code > 0 && int(code) < len(trackSources) {
		data.Source = trackSources[code]
	}
	return data
}

func int64Field(f flexInt64) *int64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// uint32Field drops values that do not fit the 32-bit protobuf field.
func uint32Field(f flexInt64) *uint32 {
	if !f.Valid || f.Value < 0 || f.Value > math.MaxUint32 {
		return nil
	}
	v := uint32(f.Value)
	return &v
}
