package usecase

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// ResolveContact maps a phone number to exactly one Contact row for the
// clinic, creating it on first sight and enriching it on every later event.
// The repository guarantees the richer-name rule and resolves creation races,
// so callers always get the surviving row back.
func (s *SyncService) ResolveContact(ctx context.Context, ev model.CanonicalEvent) (*model.Contact, error) {
	contact, err := s.contactRepo.UpsertByPhone(ctx, ev.Phone, model.ContactHints{
		DisplayName: ev.DisplayName,
		AvatarURL:   ev.AvatarURL,
		ChannelType: ev.ChannelType,
	})
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "ResolveContact", ev.Phone)
	}

	logger.FromContext(ctx).Debug("Resolved contact",
		zap.String("contact_id", contact.ID),
		zap.String("display_name", contact.DisplayName),
	)
	return contact, nil
}
