package model

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// RandomJSONB generates random JSON data for testing.
func RandomJSONB() datatypes.JSON {
	jsonData := map[string]interface{}{
		"stub_key": gofakeit.Word(),
		"stub_num": gofakeit.Number(1, 100),
	}
	bytes, _ := json.Marshal(jsonData)
	return datatypes.JSON(bytes)
}

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewContact creates a Contact instance with default fake data.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:          uuid.NewString(),
		ClinicID:    "clinic_" + gofakeit.LetterN(8),
		PhoneNumber: gofakeit.Numerify("55###########"),
		DisplayName: gofakeit.Name(),
		AvatarURL:   gofakeit.URL(),
		ChannelType: ChannelWhatsApp,
		CreatedAt:   utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ClinicID != "" {
			base.ClinicID = ovr.ClinicID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.DisplayName != "" {
			base.DisplayName = ovr.DisplayName
		}
		if ovr.ChannelType != "" {
			base.ChannelType = ovr.ChannelType
		}
	}
	return base
}

// NewConversation creates a Conversation instance with default fake data.
func NewConversation(overrideDefaults ...*Conversation) *Conversation {
	base := &Conversation{
		ID:          uuid.NewString(),
		ClinicID:    "clinic_" + gofakeit.LetterN(8),
		ContactID:   uuid.NewString(),
		Status:      ConversationOpen,
		ChannelType: ChannelWhatsApp,
		CreatedAt:   utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ClinicID != "" {
			base.ClinicID = ovr.ClinicID
		}
		if ovr.ContactID != "" {
			base.ContactID = ovr.ContactID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
	}
	return base
}

// NewMessage creates a Message instance with default fake data.
func NewMessage(overrideDefaults ...*Message) *Message {
	base := &Message{
		ID:                uuid.NewString(),
		ClinicID:          "clinic_" + gofakeit.LetterN(8),
		ConversationID:    uuid.NewString(),
		ContactID:         uuid.NewString(),
		SenderType:        SenderContact,
		Direction:         DirectionInbound,
		Content:           gofakeit.Sentence(6),
		Status:            MessageSent,
		ExternalMessageID: gofakeit.UUID(),
		OccurredAt:        utils.Now(),
		CreatedAt:         utils.Now(),
		UpdatedAt:         utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ClinicID != "" {
			base.ClinicID = ovr.ClinicID
		}
		if ovr.ConversationID != "" {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
			if ovr.Direction == DirectionOutbound {
				base.SenderType = SenderUser
			}
		}
		if ovr.SenderType != "" {
			base.SenderType = ovr.SenderType
		}
		if ovr.ExternalMessageID != "" {
			base.ExternalMessageID = ovr.ExternalMessageID
		}
		if ovr.Content != "" {
			base.Content = ovr.Content
		}
	}
	return base
}

// NewLead creates a Lead instance with default fake data.
func NewLead(overrideDefaults ...*Lead) *Lead {
	base := &Lead{
		ID:          uuid.NewString(),
		ClinicID:    "clinic_" + gofakeit.LetterN(8),
		PhoneNumber: gofakeit.Numerify("55###########"),
		Status:      "new",
		Source:      ChannelWhatsApp,
		CreatedAt:   utils.Now(),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ClinicID != "" {
			base.ClinicID = ovr.ClinicID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
	}
	return base
}

// NewCanonicalEvent creates a normalized inbound event with default fake data.
func NewCanonicalEvent(overrideDefaults ...*CanonicalEvent) *CanonicalEvent {
	base := &CanonicalEvent{
		ClinicID:          "clinic_" + gofakeit.LetterN(8),
		Phone:             gofakeit.Numerify("55###########"),
		DisplayName:       gofakeit.Name(),
		ChannelType:       ChannelWhatsApp,
		Direction:         DirectionInbound,
		SenderType:        SenderContact,
		Content:           gofakeit.Sentence(5),
		ExternalMessageID: gofakeit.UUID(),
		Source:            SourcePlatform,
		OccurredAt:        utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ClinicID != "" {
			base.ClinicID = ovr.ClinicID
		}
		if ovr.Phone != "" {
			base.Phone = ovr.Phone
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
		}
		if ovr.SenderType != "" {
			base.SenderType = ovr.SenderType
		}
		if ovr.ExternalMessageID != "" {
			base.ExternalMessageID = ovr.ExternalMessageID
		}
		if len(ovr.Labels) > 0 {
			base.Labels = ovr.Labels
		}
	}
	return base
}
