package model

import (
	"strings"
	"time"
)

// EventType represents different types of inbound events
type EventType string

// Event sources.
const (
	SourcePlatform  = "platform"
	SourceBus       = "bus"
	SourceDBTrigger = "dbtrigger"
)

// Inbound event type constants (with versioning). Bus subjects carry a
// clinic suffix (e.g. "v1.bus.message.clinic42") which MapToBaseEventType
// strips back to the registered base type.
const (
	// Conversation-platform webhook events
	V1PlatformMessageCreated      EventType = "v1.platform.message_created"
	V1PlatformConversationUpdated EventType = "v1.platform.conversation_updated"
	// Automation-bus events
	V1BusMessage EventType = "v1.bus.message"
	// Clinic-database change-trigger events
	V1DBTriggerPatient EventType = "v1.dbtrigger.patient"
)

// MapToBaseEventType attempts to map an input string (potentially with extra
// identifiers appended) back to a known base EventType constant.
// It returns the mapped EventType and true if successful, or an empty
// EventType ("") and false if no mapping is found.
func MapToBaseEventType(input string) (EventType, bool) {
	switch EventType(input) {
	case V1PlatformMessageCreated, V1PlatformConversationUpdated, V1BusMessage, V1DBTriggerPatient:
		return EventType(input), true
	}

	// No direct match; try stripping the last component after the final dot.
	lastDotIndex := strings.LastIndex(input, ".")
	if lastDotIndex <= 0 {
		return "", false
	}

	base := input[:lastDotIndex]
	switch EventType(base) {
	case V1PlatformMessageCreated:
		return V1PlatformMessageCreated, true
	case V1PlatformConversationUpdated:
		return V1PlatformConversationUpdated, true
	case V1BusMessage:
		return V1BusMessage, true
	case V1DBTriggerPatient:
		return V1DBTriggerPatient, true
	default:
		return "", false
	}
}

// GetVersion extracts the version from an event type
// Returns the version string (e.g., "v1") or an empty string if no version specified
func (e EventType) GetVersion() string {
	parts := strings.SplitN(string(e), ".", 2)
	if len(parts) < 2 {
		return ""
	}
	if len(parts[0]) >= 2 && parts[0][0] == 'v' {
		return parts[0]
	}
	return ""
}

// GetBaseType returns the event type without the version prefix
// For example: "v1.bus.message" -> "bus.message"
func (e EventType) GetBaseType() EventType {
	version := e.GetVersion()
	if version == "" {
		return e
	}
	return EventType(strings.TrimPrefix(string(e), version+"."))
}

// EventMetadata describes where an inbound event came from and how it was
// delivered. For webhook sources only Source, EventID, Subject and ClinicID
// are populated; the sequence fields are bus-consumer specific.
type EventMetadata struct {
	Source           string
	EventID          string
	Subject          string
	ClinicID         string
	ConsumerSequence uint64
	StreamSequence   uint64
	NumDelivered     uint64
	Stream           string
	Consumer         string
	Timestamp        time.Time
}

// ToLastMetadata converts EventMetadata to LastMetadata for JSONB storage.
func (e EventMetadata) ToLastMetadata() *LastMetadata {
	return &LastMetadata{
		Source:           e.Source,
		EventID:          e.EventID,
		Subject:          e.Subject,
		ClinicID:         e.ClinicID,
		ConsumerSequence: int64(e.ConsumerSequence),
		StreamSequence:   int64(e.StreamSequence),
		Stream:           e.Stream,
		Consumer:         e.Consumer,
	}
}

// LastMetadata is the delivery metadata persisted alongside synced rows.
type LastMetadata struct {
	Source           string `json:"source"`
	EventID          string `json:"event_id"`
	Subject          string `json:"subject"`
	ClinicID         string `json:"clinic_id"`
	ConsumerSequence int64  `json:"consumer_sequence,omitempty"`
	StreamSequence   int64  `json:"stream_sequence,omitempty"`
	Stream           string `json:"stream,omitempty"`
	Consumer         string `json:"consumer,omitempty"`
}
