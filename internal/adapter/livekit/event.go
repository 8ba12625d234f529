package livekit

import (
	"bytes"
	"fmt"
	"strconv"
)

// webhookEvent mirrors the protojson encoding LiveKit uses for webhook bodies.
type webhookEvent struct {
	Event       string           `json:"event"`
	ID          string           `json:"id"`
	CreatedAt   flexInt64        `json:"createdAt"`
	Room        *roomInfo        `json:"room"`
	Participant *participantInfo `json:"participant"`
	Track       *trackInfo       `json:"track"`
}

type roomInfo struct {
	SID             string    `json:"sid"`
	Name            string    `json:"name"`
	EmptyTimeout    flexInt64 `json:"emptyTimeout"`
	MaxParticipants flexInt64 `json:"maxParticipants"`
	CreationTime    flexInt64 `json:"creationTime"`
	Metadata        string    `json:"metadata"`
	NumParticipants flexInt64 `json:"numParticipants"`
	ActiveRecording bool      `json:"activeRecording"`
}

type participantInfo struct {
	SID         string    `json:"sid"`
	Identity    string    `json:"identity"`
	Name        string    `json:"name"`
	State       flexEnum  `json:"state"`
	Metadata    string    `json:"metadata"`
	JoinedAt    flexInt64 `json:"joinedAt"`
	IsPublisher bool      `json:"isPublisher"`
}

type trackInfo struct {
	SID    string   `json:"sid"`
	Type   flexEnum `json:"type"`
	Source flexEnum `json:"source"`
	Muted  bool     `json:"muted"`
}

// flexInt64 accepts 64-bit integers as JSON numbers or decimal strings.
type flexInt64 struct {
	Value int64
	Valid bool
}

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	raw := string(bytes.Trim(b, `"`))
	if raw == "" {
		return nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	f.Value, f.Valid = v, true
	return nil
}

// flexEnum accepts a protobuf enum as its numeric code or its name.
type flexEnum struct {
	Code  int32
	Name  string
	Valid bool
}

func (f *flexEnum) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return fmt.Errorf("invalid enum %s: %w", b, err)
		}
		if code, err := strconv.ParseInt(s, 10, 32); err == nil {
			f.Code, f.Valid = int32(code), true
			return nil
		}
		f.Name, f.Valid = s, true
		return nil
	}

	code, err := strconv.ParseInt(string(b), 10, 32)
	if err != nil {
		return fmt.Errorf("invalid enum %s: %w", b, err)
	}
	f.Code, f.Valid = int32(code), true
	return nil
}

// resolve returns the enum's numeric code. names lists protobuf names by code.
// An absent field is the proto3 default, code 0.
func (f flexEnum) resolve(names []string) (int32, bool) {
	if !f.Valid || f.Name == "" {
		return f.Code, true
	}
	for code, name := range names {
		if name == f.Name {
			return int32(code), true
		}
	}
	return 0, false
}
