package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/platform"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// outboundPayload is the JSON body parked in the queue for one message.
type outboundPayload struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// Outbound posts agent messages to the platform, falling back to the local
// queue when the platform is unreachable. Queued messages keep status
// pending until a replay delivers them. Conversations that never got a
// platform-side counterpart (bus-originated ones) are linked on first send
// via the platform's find-or-create surface.
type Outbound struct {
	platformAPI   platform.ClientAPI
	messages      storage.MessageRepo
	conversations storage.ConversationRepo
	contacts      storage.ContactRepo
	queue         *Queue
	clinicID      string
}

// NewOutbound creates the outbound sender.
func NewOutbound(platformAPI platform.ClientAPI, messages storage.MessageRepo, conversations storage.ConversationRepo, contacts storage.ContactRepo, queue *Queue, clinicID string) *Outbound {
	return &Outbound{
		platformAPI:   platformAPI,
		messages:      messages,
		conversations: conversations,
		contacts:      contacts,
		queue:         queue,
		clinicID:      clinicID,
	}
}

// Send records an outbound message and posts it to the platform. On a
// retryable platform failure the row stays pending and the message is parked
// for replay; the caller sees success either way, delivery is guaranteed by
// the queue.
func (o *Outbound) Send(ctx context.Context, conversation *model.Conversation, content string) (*model.Message, error) {
	log := logger.FromContext(ctx)

	message := model.Message{
		ID:             uuid.NewString(),
		ClinicID:       o.clinicID,
		ConversationID: conversation.ID,
		ContactID:      conversation.ContactID,
		SenderType:     model.SenderUser,
		Direction:      model.DirectionOutbound,
		Content:        content,
		Status:         model.MessagePending,
		OccurredAt:     utils.Now(),
	}
	if err := o.messages.Insert(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to record outbound message: %w", err)
	}

	deliverErr := o.deliver(ctx, message.ID, conversation.ID, content)
	if deliverErr == nil {
		message.Status = model.MessageSent
		return &message, nil
	}

	if !apperrors.IsRetryable(deliverErr) {
		return nil, deliverErr
	}

	payload := utils.MustMarshalJSON(outboundPayload{
		MessageID:      message.ID,
		ConversationID: conversation.ID,
		Content:        content,
	})
	if err := o.queue.Enqueue(ctx, QueueItem{
		TempID:         message.ID,
		ConversationID: conversation.ID,
		Payload:        payload,
	}); err != nil {
		return nil, fmt.Errorf("platform send failed and enqueue failed: %w", err)
	}

	log.Warn("Platform unreachable, outbound message parked",
		zap.String("message_id", message.ID),
		zap.String("conversation_id", conversation.ID),
	)
	return &message, nil
}

// ReplaySender returns the SendFunc a replay pass uses to deliver parked
// payloads and finalize their message rows. Payloads that can never send are
// dropped rather than wedging the queue head forever.
func (o *Outbound) ReplaySender() SendFunc {
	return func(ctx context.Context, item QueueItem) error {
		ctx = tenant.WithClinicID(ctx, o.clinicID)

		var payload outboundPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			logger.FromContext(ctx).Error("Dropping corrupt queue payload",
				zap.String("temp_id", item.TempID),
				zap.Error(err))
			return nil
		}

		err := o.deliver(ctx, payload.MessageID, payload.ConversationID, payload.Content)
		if err != nil && apperrors.IsFatal(err) {
			logger.FromContext(ctx).Error("Dropping undeliverable queue payload",
				zap.String("temp_id", item.TempID),
				zap.Error(err))
			return nil
		}
		return err
	}
}

func (o *Outbound) deliver(ctx context.Context, messageID, conversationID, content string) error {
	conversation, err := o.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return apperrors.NewFatal(err, "conversation %s not found for delivery", conversationID)
	}

	externalID := conversation.ExternalID
	if externalID == "" {
		externalID, err = o.linkConversation(ctx, conversation)
		if err != nil {
			return err
		}
	}

	platformConversationID, err := strconv.Atoi(externalID)
	if err != nil {
		return apperrors.NewFatal(err, "invalid external conversation id %s", externalID)
	}

	platformMessage, err := o.platformAPI.CreateMessage(ctx, platformConversationID, platform.MessagePayload{
		Content:     content,
		MessageType: "outgoing",
	})
	if err != nil {
		return err
	}

	externalMessageID := strconv.Itoa(platformMessage.ID)
	if err := o.messages.MarkSent(ctx, messageID, externalMessageID); err != nil {
		logger.FromContext(ctx).Warn("Message delivered but local finalize failed",
			zap.String("message_id", messageID),
			zap.String("external_message_id", externalMessageID),
			zap.Error(err))
	}
	return nil
}

// linkConversation creates the platform-side counterpart for a conversation
// that has no external id yet: find or create the contact by phone, reuse an
// unresolved platform conversation when one exists, create one otherwise,
// and persist the link.
func (o *Outbound) linkConversation(ctx context.Context, conversation *model.Conversation) (string, error) {
	log := logger.FromContext(ctx)

	contact, err := o.contacts.FindByID(ctx, conversation.ContactID)
	if err != nil {
		return "", apperrors.NewFatal(err, "contact %s not found for platform linking", conversation.ContactID)
	}

	platformContact, err := o.platformAPI.FindContactByPhone(ctx, contact.PhoneNumber)
	if err != nil {
		return "", err
	}
	if platformContact == nil {
		platformContact, err = o.platformAPI.CreateContact(ctx, platform.ContactPayload{
			Name:        contact.DisplayName,
			PhoneNumber: contact.PhoneNumber,
		})
		if err != nil {
			return "", err
		}
	}

	existing, err := o.platformAPI.ConversationsForContact(ctx, platformContact.ID)
	if err != nil {
		return "", err
	}
	var platformConversation *platform.Conversation
	for i := range existing {
		if existing[i].Status != "resolved" {
			platformConversation = &existing[i]
			break
		}
	}
	if platformConversation == nil {
		platformConversation, err = o.platformAPI.CreateConversation(ctx, platformContact.ID)
		if err != nil {
			return "", err
		}
	}

	externalID := strconv.Itoa(platformConversation.ID)
	if err := o.conversations.SetExternalID(ctx, conversation.ID, externalID); err != nil {
		// The platform side exists; the next send re-finds it through the
		// same lookup, so only warn.
		log.Warn("Failed to persist platform conversation link",
			zap.String("conversation_id", conversation.ID),
			zap.String("external_id", externalID),
			zap.Error(err))
	}

	log.Info("Conversation linked to platform",
		zap.String("conversation_id", conversation.ID),
		zap.String("external_id", externalID),
		zap.Int("platform_contact_id", platformContact.ID),
	)
	return externalID, nil
}
