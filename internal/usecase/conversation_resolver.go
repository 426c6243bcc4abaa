package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// ResolveConversation returns the contact's single open conversation,
// creating one when none exists. The partial unique index plus the
// repository's on-conflict re-read keep the post-condition: exactly one open
// conversation per contact, regardless of how many writers raced.
func (s *SyncService) ResolveConversation(ctx context.Context, contactID, channelType string) (*model.Conversation, error) {
	conversation, err := s.conversationRepo.FindOpenByContact(ctx, contactID)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, handleRepositoryError(ctx, err, "FindOpenConversation", contactID)
	}

	conversation, err = s.conversationRepo.CreateOpen(ctx, contactID, channelType)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "CreateOpenConversation", contactID)
	}

	logger.FromContext(ctx).Info("Opened conversation",
		zap.String("conversation_id", conversation.ID),
		zap.String("contact_id", contactID),
		zap.String("channel_type", channelType),
	)
	return conversation, nil
}

// linkExternalConversation stores the platform-side conversation id the first
// time an event carries it. Failures are logged, not propagated: the link is
// an optimization for later outbound sends, not a pipeline requirement.
func (s *SyncService) linkExternalConversation(ctx context.Context, conversation *model.Conversation, externalID string) {
	if externalID == "" || conversation.ExternalID == externalID {
		return
	}
	if err := s.conversationRepo.SetExternalID(ctx, conversation.ID, externalID); err != nil {
		logger.FromContext(ctx).Warn("Failed to link external conversation id",
			zap.String("conversation_id", conversation.ID),
			zap.String("external_id", externalID),
			zap.Error(err),
		)
		return
	}
	conversation.ExternalID = externalID
}
