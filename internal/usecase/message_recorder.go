package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// RecordMessage persists the event's message exactly once. The returned bool
// reports whether a new row was created; a replayed external message id
// (caught by the dedup cache or the unique index) yields the previously
// stored row and false.
func (s *SyncService) RecordMessage(ctx context.Context, conversation *model.Conversation, contact *model.Contact, ev model.CanonicalEvent, meta *model.LastMetadata) (*model.Message, bool, error) {
	log := logger.FromContext(ctx)

	if ev.ExternalMessageID != "" && s.dedupCache != nil && s.dedupCache.Seen(ev.ExternalMessageID) {
		existing, err := s.messageRepo.FindByExternalID(ctx, ev.ExternalMessageID)
		if err == nil {
			log.Debug("Skipping already recorded message",
				zap.String("external_message_id", ev.ExternalMessageID))
			return existing, false, nil
		}
		// Cache hit without a row means the cache outlived a rollback or the
		// entry belongs to another instance. Fall through and insert.
		log.Warn("Dedup cache hit without stored message, re-recording",
			zap.String("external_message_id", ev.ExternalMessageID),
			zap.Error(err))
	}

	status := model.MessageSent
	if ev.Direction == model.DirectionInbound {
		status = model.MessageDelivered
	}

	message := model.Message{
		ID:                uuid.New().String(),
		ClinicID:          ev.ClinicID,
		ConversationID:    conversation.ID,
		ContactID:         contact.ID,
		SenderType:        ev.SenderType,
		Direction:         ev.Direction,
		Content:           ev.Content,
		MediaURL:          ev.MediaURL,
		Status:            status,
		ExternalMessageID: ev.ExternalMessageID,
		OccurredAt:        ev.OccurredAt,
	}
	if meta != nil {
		message.LastMetadata = utils.MustMarshalJSON(meta)
	}

	if err := s.messageRepo.Insert(ctx, message); err != nil {
		if apperrors.IsDuplicateError(err) {
			if s.dedupCache != nil {
				s.dedupCache.MarkSeen(ev.ExternalMessageID)
			}
			existing, findErr := s.messageRepo.FindByExternalID(ctx, ev.ExternalMessageID)
			if findErr != nil {
				return nil, false, handleRepositoryError(ctx, findErr, "FindDuplicateMessage", ev.ExternalMessageID)
			}
			log.Debug("Message already recorded, treating as no-op",
				zap.String("external_message_id", ev.ExternalMessageID))
			return existing, false, nil
		}
		return nil, false, handleRepositoryError(ctx, err, "InsertMessage", ev.ExternalMessageID)
	}

	// Unread only grows for inbound messages nobody is currently looking at.
	incrementUnread := ev.Direction == model.DirectionInbound &&
		(s.viewers == nil || !s.viewers.Active(conversation.ID))
	if err := s.conversationRepo.RegisterMessage(ctx, conversation.ID, incrementUnread, ev.OccurredAt); err != nil {
		// The message row is already committed. A failed bookkeeping update
		// must not trigger a redelivery that would double-record.
		log.Warn("Failed to update conversation after message insert",
			zap.String("conversation_id", conversation.ID),
			zap.Error(err))
	}

	if ev.ExternalMessageID != "" && s.dedupCache != nil {
		s.dedupCache.MarkSeen(ev.ExternalMessageID)
	}
	return &message, true, nil
}
