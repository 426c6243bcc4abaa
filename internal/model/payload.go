package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// --- Conversation-platform webhook payload --- //

// PlatformEvent is the payload delivered by the conversation platform's
// webhook for message_created and conversation_updated events.
type PlatformEvent struct {
	Event        string               `json:"event" validate:"required,oneof=message_created conversation_updated"`
	ID           int64                `json:"id,omitempty"` // platform message id on message_created
	MessageType  string               `json:"message_type,omitempty" validate:"omitempty,oneof=incoming outgoing template"`
	Content      string               `json:"content,omitempty"`
	CreatedAt    int64                `json:"created_at,omitempty"`
	Conversation PlatformConversation `json:"conversation" validate:"required"`
	Attachments  []PlatformAttachment `json:"attachments,omitempty"`
}

// PlatformConversation is the conversation envelope inside a platform event.
type PlatformConversation struct {
	ID      int64    `json:"id" validate:"required"`
	Labels  []string `json:"labels,omitempty"`
	Channel string   `json:"channel,omitempty"`
	Meta    struct {
		Sender struct {
			PhoneNumber string `json:"phone_number,omitempty"`
			Name        string `json:"name,omitempty"`
			Thumbnail   string `json:"thumbnail,omitempty"`
		} `json:"sender"`
	} `json:"meta"`
}

// PlatformAttachment carries media on a platform message.
type PlatformAttachment struct {
	FileType string `json:"file_type,omitempty"`
	DataURL  string `json:"data_url,omitempty"`
}

// --- Automation-bus payload --- //

// BusEvent is the payload delivered on the automation bus for contact and
// message events originated by workflow automations.
type BusEvent struct {
	ClinicID string `json:"clinic_id" validate:"required"`
	Contact  struct {
		Phone       string `json:"phone" validate:"required"`
		Name        string `json:"name,omitempty"`
		ChannelType string `json:"channel_type,omitempty"`
	} `json:"contact" validate:"required"`
	Message struct {
		MessageID   string `json:"message_id,omitempty"`
		Content     string `json:"content,omitempty"`
		MediaURL    string `json:"media_url,omitempty"`
		MessageType string `json:"message_type,omitempty" validate:"omitempty,oneof=incoming outgoing"`
	} `json:"message" validate:"required"`
	Channel   string `json:"channel,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// --- Clinic-database trigger payload --- //

// DBTriggerEvent is the payload delivered by the clinic database's change
// triggers when a patient row is inserted, updated or deleted.
type DBTriggerEvent struct {
	EventType   string   `json:"event_type" validate:"required,oneof=INSERT UPDATE DELETE"`
	PatientID   string   `json:"patient_id" validate:"required"`
	PatientData *struct {
		Phone string `json:"phone,omitempty"`
		Name  string `json:"name,omitempty"`
	} `json:"patient_data,omitempty"`
	ChangedFields []string `json:"changed_fields,omitempty"`
}

// --- Canonical inbound event --- //

// CanonicalEvent is the single normalized shape every message-bearing source
// reduces to before entering the resolvers. Phone is digit-normalized.
type CanonicalEvent struct {
	ClinicID               string
	Phone                  string
	DisplayName            string
	AvatarURL              string
	ChannelType            string
	Direction              string // inbound | outbound
	SenderType             string // contact | user | system
	Content                string
	MediaURL               string
	ExternalMessageID      string
	ExternalConversationID string
	Labels                 []string
	Source                 string
	OccurredAt             time.Time
}

// Normalize reduces a platform event to the canonical shape. The clinic id
// comes from the webhook scope, not the payload.
func (p PlatformEvent) Normalize(clinicID string) CanonicalEvent {
	direction := DirectionInbound
	senderType := SenderContact
	if p.MessageType == "outgoing" || p.MessageType == "template" {
		direction = DirectionOutbound
		senderType = SenderUser
	}

	ev := CanonicalEvent{
		ClinicID:               clinicID,
		Phone:                  utils.NormalizePhone(p.Conversation.Meta.Sender.PhoneNumber),
		DisplayName:            p.Conversation.Meta.Sender.Name,
		AvatarURL:              p.Conversation.Meta.Sender.Thumbnail,
		ChannelType:            platformChannelType(p.Conversation.Channel),
		Direction:              direction,
		SenderType:             senderType,
		Content:                p.Content,
		ExternalMessageID:      externalID(p.ID),
		ExternalConversationID: externalID(p.Conversation.ID),
		Labels:                 p.Conversation.Labels,
		Source:                 SourcePlatform,
		OccurredAt:             utils.UnixToTime(p.CreatedAt),
	}
	if len(p.Attachments) > 0 {
		ev.MediaURL = p.Attachments[0].DataURL
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = utils.Now()
	}
	return ev
}

// Normalize reduces a bus event to the canonical shape.
func (b BusEvent) Normalize() CanonicalEvent {
	direction := DirectionInbound
	senderType := SenderContact
	if b.Message.MessageType == "outgoing" {
		direction = DirectionOutbound
		senderType = SenderSystem // automations send on behalf of the clinic
	}

	channel := b.Contact.ChannelType
	if channel == "" {
		channel = b.Channel
	}

	ev := CanonicalEvent{
		ClinicID:          b.ClinicID,
		Phone:             utils.NormalizePhone(b.Contact.Phone),
		DisplayName:       b.Contact.Name,
		ChannelType:       channel,
		Direction:         direction,
		SenderType:        senderType,
		Content:           b.Message.Content,
		MediaURL:          b.Message.MediaURL,
		ExternalMessageID: b.Message.MessageID,
		Source:            SourceBus,
		OccurredAt:        utils.UnixToTime(b.Timestamp),
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = utils.Now()
	}
	return ev
}

func platformChannelType(channel string) string {
	lowered := strings.ToLower(channel)
	switch {
	case channel == "", strings.Contains(lowered, "whatsapp"):
		return ChannelWhatsApp
	case strings.Contains(lowered, "instagram"):
		return ChannelInstagram
	case strings.Contains(lowered, "facebook"):
		return ChannelFacebook
	default:
		return ChannelWeb
	}
}

func externalID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// --- DLQ payload --- //

// DLQPayload represents the structure of bus messages sent to the Dead Letter Queue.
type DLQPayload struct {
	SourceSubject   string          `json:"source_subject"`
	Clinic          string          `json:"clinic"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Error           string          `json:"error"`
	ErrorType       string          `json:"error_type"` // 'fatal', 'retryable', 'unknown'
	RetryCount      uint64          `json:"retry_count"`
	MaxRetry        int             `json:"max_retry"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	Timestamp       time.Time       `json:"ts"`
}
