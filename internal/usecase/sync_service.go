package usecase

import (
	"context"
	"errors"
	"unicode/utf8"

	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/validator"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

// notificationPreviewLimit caps the message excerpt stored on a notification.
const notificationPreviewLimit = 120

// ProcessMessageEvent runs one canonical event through the full pipeline.
// Events with no clinic or no phone cannot be attributed and are dropped as
// fatal; everything after the message commit is best-effort and never causes
// a redelivery.
func (s *SyncService) ProcessMessageEvent(ctx context.Context, ev model.CanonicalEvent, meta *model.LastMetadata) error {
	log := logger.FromContext(ctx)

	if ev.ClinicID == "" || ev.Phone == "" {
		log.Warn("Dropping unattributable event",
			zap.String("source", ev.Source),
			zap.String("clinic_id", ev.ClinicID),
			zap.String("phone", ev.Phone),
		)
		return apperrors.NewFatal(nil, "event missing clinic id or phone (source: %s)", ev.Source)
	}
	if err := validateEventClinic(ctx, ev.ClinicID); err != nil {
		log.Error("Clinic validation failed for event", zap.String("source", ev.Source), zap.Error(err))
		return apperrors.NewFatal(err, "clinic validation error")
	}

	contact, err := s.ResolveContact(ctx, ev)
	if err != nil {
		return err
	}

	conversation, err := s.ResolveConversation(ctx, contact.ID, ev.ChannelType)
	if err != nil {
		return err
	}
	s.linkExternalConversation(ctx, conversation, ev.ExternalConversationID)

	message, created, err := s.RecordMessage(ctx, conversation, contact, ev, meta)
	if err != nil {
		return err
	}
	if !created {
		// Replay of an already-recorded message. Side effects already ran.
		return nil
	}

	s.applyLeadRules(ctx, ev)

	if ev.Direction == model.DirectionInbound && ev.SenderType == model.SenderContact {
		s.maybeNotify(ctx, conversation, contact, message)
	}

	log.Info("Processed message event",
		zap.String("source", ev.Source),
		zap.String("conversation_id", conversation.ID),
		zap.String("message_id", message.ID),
		zap.String("direction", ev.Direction),
	)
	return nil
}

// applyLeadRules runs funnel transitions for a recorded message. The message
// row is already committed, so lead failures are logged and swallowed rather
// than handed back to the ingress layer for redelivery.
func (s *SyncService) applyLeadRules(ctx context.Context, ev model.CanonicalEvent) {
	if s.leads == nil {
		return
	}
	log := logger.FromContext(ctx)

	var err error
	if ev.Direction == model.DirectionInbound {
		err = s.leads.ApplyInbound(ctx, ev.ClinicID, ev.Phone, ev.Source, ev.OccurredAt)
	} else {
		err = s.leads.ApplyOutbound(ctx, ev.ClinicID, ev.Phone, ev.OccurredAt)
	}
	if err != nil {
		log.Warn("Lead transition failed after message commit",
			zap.String("phone", ev.Phone),
			zap.String("direction", ev.Direction),
			zap.Error(err),
		)
	}

	if len(ev.Labels) > 0 {
		if err := s.leads.ApplyLabels(ctx, ev.ClinicID, ev.Phone, ev.Source, ev.Labels); err != nil {
			log.Warn("Label-driven lead transition failed",
				zap.String("phone", ev.Phone),
				zap.Strings("labels", ev.Labels),
				zap.Error(err),
			)
		}
	}
}

// ProcessLabelEvent handles conversation updates that carry CRM labels but no
// message, e.g. an agent tagging a conversation. Out-of-order delivery
// relative to message events is tolerated.
func (s *SyncService) ProcessLabelEvent(ctx context.Context, ev model.CanonicalEvent) error {
	log := logger.FromContext(ctx)

	if ev.ClinicID == "" || ev.Phone == "" {
		log.Warn("Dropping unattributable label event",
			zap.String("source", ev.Source),
			zap.Strings("labels", ev.Labels),
		)
		return apperrors.NewFatal(nil, "label event missing clinic id or phone (source: %s)", ev.Source)
	}
	if err := validateEventClinic(ctx, ev.ClinicID); err != nil {
		return apperrors.NewFatal(err, "clinic validation error")
	}
	if s.leads == nil || len(ev.Labels) == 0 {
		return nil
	}
	return s.leads.ApplyLabels(ctx, ev.ClinicID, ev.Phone, ev.Source, ev.Labels)
}

// ProcessPatientChange keeps the local patient mirror in sync with the clinic
// database's change triggers.
func (s *SyncService) ProcessPatientChange(ctx context.Context, clinicID string, ev model.DBTriggerEvent) error {
	log := logger.FromContext(ctx)

	if err := validator.Validate(ev); err != nil {
		log.Warn("Invalid db-trigger payload", zap.Error(err))
		return apperrors.NewFatal(err, "db-trigger validation failed")
	}

	switch ev.EventType {
	case "DELETE":
		if err := s.leads.patientRepo.Delete(ctx, ev.PatientID); err != nil {
			return handleRepositoryError(ctx, err, "DeletePatient", ev.PatientID)
		}
		log.Info("Patient mirror row removed", zap.String("patient_id", ev.PatientID))
		return nil
	case "INSERT", "UPDATE":
		if ev.PatientData == nil {
			log.Warn("Patient change without patient data, dropping",
				zap.String("patient_id", ev.PatientID),
				zap.String("event_type", ev.EventType))
			return apperrors.NewFatal(nil, "patient %s event missing patient data", ev.EventType)
		}
		patient := model.Patient{
			ClinicID:    clinicID,
			PatientID:   ev.PatientID,
			PhoneNumber: utils.NormalizePhone(ev.PatientData.Phone),
			Name:        ev.PatientData.Name,
		}
		if err := s.leads.patientRepo.Upsert(ctx, patient); err != nil {
			return handleRepositoryError(ctx, err, "UpsertPatient", ev.PatientID)
		}
		log.Info("Patient mirror row upserted", zap.String("patient_id", ev.PatientID))
		return nil
	default:
		return apperrors.NewFatal(nil, "unknown patient event type %s", ev.EventType)
	}
}

// MarkConversationRead zeroes the unread counter and registers the viewer so
// notifications stay quiet while the conversation is on screen. The returned
// conversation carries the platform external id for the read receipt.
func (s *SyncService) MarkConversationRead(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conversation, err := s.conversationRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, handleRepositoryError(ctx, err, "FindConversationForRead", conversationID)
	}

	if err := s.conversationRepo.ResetUnread(ctx, conversationID); err != nil {
		return nil, handleRepositoryError(ctx, err, "ResetUnread", conversationID)
	}
	conversation.UnreadCount = 0

	if s.viewers != nil {
		s.viewers.Touch(conversationID)
	}
	return conversation, nil
}

// maybeNotify emits a best-effort alert for an inbound message unless someone
// is actively viewing the conversation.
func (s *SyncService) maybeNotify(ctx context.Context, conversation *model.Conversation, contact *model.Contact, message *model.Message) {
	if s.emitter == nil {
		return
	}
	if s.viewers != nil && s.viewers.Active(conversation.ID) {
		logger.FromContext(ctx).Debug("Suppressing notification, conversation actively viewed",
			zap.String("conversation_id", conversation.ID))
		return
	}

	s.emitter.Emit(ctx, model.Notification{
		ClinicID:       conversation.ClinicID,
		ConversationID: conversation.ID,
		ContactName:    contact.DisplayName,
		Preview:        previewOf(message.Content),
	})
}

func previewOf(content string) string {
	if utf8.RuneCountInString(content) <= notificationPreviewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:notificationPreviewLimit])
}
