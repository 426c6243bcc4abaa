package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/lead"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/observer"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

// LeadService drives the CRM funnel. Transitions come from two places:
// message traffic (OnInbound/OnOutbound rules) and CRM labels (authoritative
// manual overrides). Patient phones never become leads.
type LeadService struct {
	leadRepo    storage.LeadRepo
	patientRepo storage.PatientRepo
}

// NewLeadService creates the lead service.
func NewLeadService(leadRepo storage.LeadRepo, patientRepo storage.PatientRepo) *LeadService {
	return &LeadService{leadRepo: leadRepo, patientRepo: patientRepo}
}

// ApplyInbound advances the funnel after an inbound message from the phone.
// Unknown phones become fresh leads unless they belong to a patient. A lead
// created by this very message stays in new until the first agent reply, so
// first-response latency has a starting point.
func (s *LeadService) ApplyInbound(ctx context.Context, clinicID, phone, source string, occurredAt time.Time) error {
	log := logger.FromContext(ctx)

	created := false
	record, err := s.leadRepo.FindByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return handleRepositoryError(ctx, err, "FindLeadForInbound", phone)
		}

		isPatient, patErr := s.patientRepo.IsPatientPhone(ctx, phone)
		if patErr != nil {
			return handleRepositoryError(ctx, patErr, "CheckPatientPhone", phone)
		}
		if isPatient {
			log.Debug("Skipping lead creation for patient phone", zap.String("phone", phone))
			return nil
		}

		record, err = s.leadRepo.GetOrCreate(ctx, phone, source)
		if err != nil {
			return handleRepositoryError(ctx, err, "CreateLead", phone)
		}
		created = true
	}

	if !created {
		next := lead.OnInbound(lead.Status(record.Status))
		if string(next) != record.Status {
			observer.IncLeadTransition(clinicID, record.Status, string(next))
			log.Info("Lead transition",
				zap.String("phone", phone),
				zap.String("from", record.Status),
				zap.String("to", string(next)),
			)
		}
		record.Status = string(next)
	}
	record.LastMessageAt = &occurredAt
	record.LastInboundAt = &occurredAt

	if err := s.leadRepo.Update(ctx, *record); err != nil {
		return handleRepositoryError(ctx, err, "UpdateLeadInbound", phone)
	}
	return nil
}

// ApplyOutbound advances the funnel after an outbound message to the phone.
// The first reply after an inbound also records first-response latency, once.
func (s *LeadService) ApplyOutbound(ctx context.Context, clinicID, phone string, occurredAt time.Time) error {
	record, err := s.leadRepo.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Outbound to a phone that never led in, e.g. a patient reminder.
			return nil
		}
		return handleRepositoryError(ctx, err, "FindLeadForOutbound", phone)
	}

	next, _ := lead.OnOutbound(lead.Status(record.Status))
	if string(next) != record.Status {
		observer.IncLeadTransition(clinicID, record.Status, string(next))
	}
	record.Status = string(next)
	record.LastMessageAt = &occurredAt

	// First agent reply after any inbound records latency, regardless of
	// which stage the lead reached in the meantime.
	if record.FirstResponseAt == nil && record.LastInboundAt != nil {
		record.FirstResponseAt = &occurredAt
		seconds := int64(occurredAt.Sub(*record.LastInboundAt).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		record.ResponseTimeSeconds = &seconds

		logger.FromContext(ctx).Info("Recorded first response",
			zap.String("phone", phone),
			zap.Int64("response_time_seconds", seconds),
		)
	}

	if err := s.leadRepo.Update(ctx, *record); err != nil {
		return handleRepositoryError(ctx, err, "UpdateLeadOutbound", phone)
	}
	return nil
}

// ApplyLabels maps CRM labels to a funnel stage and applies it as a manual
// override. Events with no mapped label are a no-op; label events may arrive
// without any accompanying message.
func (s *LeadService) ApplyLabels(ctx context.Context, clinicID, phone, source string, labels []string) error {
	target, ok := lead.MatchLabel(labels)
	if !ok {
		return nil
	}
	log := logger.FromContext(ctx)

	record, err := s.leadRepo.FindByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return handleRepositoryError(ctx, err, "FindLeadForLabel", phone)
		}

		isPatient, patErr := s.patientRepo.IsPatientPhone(ctx, phone)
		if patErr != nil {
			return handleRepositoryError(ctx, patErr, "CheckPatientPhone", phone)
		}
		if isPatient {
			log.Debug("Skipping label-driven lead creation for patient phone", zap.String("phone", phone))
			return nil
		}

		record, err = s.leadRepo.GetOrCreate(ctx, phone, source)
		if err != nil {
			return handleRepositoryError(ctx, err, "CreateLeadForLabel", phone)
		}
	}

	if record.Status == string(target) {
		return nil
	}

	observer.IncLeadTransition(clinicID, record.Status, string(target))
	log.Info("Lead stage set by label",
		zap.String("phone", phone),
		zap.Strings("labels", labels),
		zap.String("from", record.Status),
		zap.String("to", string(target)),
	)
	record.Status = string(target)

	if err := s.leadRepo.Update(ctx, *record); err != nil {
		return handleRepositoryError(ctx, err, "UpdateLeadLabel", phone)
	}
	return nil
}
