package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	storagemock "gitlab.com/vitalmed/api/clinic-inbox-sync/internal/storage/mock"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
)

const testPhone = "5511988887777"

func newLeadFixture(t *testing.T) (*LeadService, *storagemock.LeadRepoMock, *storagemock.PatientRepoMock) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	leadRepo := new(storagemock.LeadRepoMock)
	patients := new(storagemock.PatientRepoMock)
	return NewLeadService(leadRepo, patients), leadRepo, patients
}

func TestApplyInbound_FreshLeadStaysNew(t *testing.T) {
	service, leadRepo, patients := newLeadFixture(t)
	now := time.Now()

	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(nil, apperrors.ErrNotFound)
	patients.On("IsPatientPhone", mock.Anything, testPhone).Return(false, nil)
	leadRepo.On("GetOrCreate", mock.Anything, testPhone, model.SourcePlatform).
		Return(model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone}), nil)
	leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.Status == "new" &&
			l.LastMessageAt != nil && l.LastMessageAt.Equal(now) &&
			l.LastInboundAt != nil
	})).Return(nil)

	err := service.ApplyInbound(testCtx(), testClinicID, testPhone, model.SourcePlatform, now)
	require.NoError(t, err)
	leadRepo.AssertExpectations(t)
}

// leadStore is a stateful fake: FindByPhone serves whatever the last Update
// stored, so multi-step funnel sequences run against real persistence flow.
type leadStore struct {
	stored *model.Lead
}

func (s *leadStore) FindByPhone(ctx context.Context, phone string) (*model.Lead, error) {
	if s.stored == nil {
		return nil, apperrors.ErrNotFound
	}
	copied := *s.stored
	return &copied, nil
}

func (s *leadStore) GetOrCreate(ctx context.Context, phone, source string) (*model.Lead, error) {
	if s.stored == nil {
		s.stored = &model.Lead{
			ID:          "lead-1",
			ClinicID:    testClinicID,
			PhoneNumber: phone,
			Status:      "new",
			Source:      source,
		}
	}
	copied := *s.stored
	return &copied, nil
}

func (s *leadStore) Update(ctx context.Context, lead model.Lead) error {
	s.stored = &lead
	return nil
}

func (s *leadStore) Close(ctx context.Context) error { return nil }

func TestLeadSequence_InboundOutboundLabel(t *testing.T) {
	logger.Log = zaptest.NewLogger(t).Named("test")
	store := &leadStore{}
	patients := new(storagemock.PatientRepoMock)
	patients.On("IsPatientPhone", mock.Anything, testPhone).Return(false, nil)
	service := NewLeadService(store, patients)

	inboundAt := time.Now()
	respondedAt := inboundAt.Add(90 * time.Second)

	require.NoError(t, service.ApplyInbound(testCtx(), testClinicID, testPhone, model.SourceBus, inboundAt))
	require.Equal(t, "new", store.stored.Status)

	require.NoError(t, service.ApplyOutbound(testCtx(), testClinicID, testPhone, respondedAt))
	require.Equal(t, "in_conversation", store.stored.Status)
	require.NotNil(t, store.stored.FirstResponseAt)
	require.NotNil(t, store.stored.ResponseTimeSeconds)
	require.EqualValues(t, 90, *store.stored.ResponseTimeSeconds)

	require.NoError(t, service.ApplyLabels(testCtx(), testClinicID, testPhone, model.SourceBus, []string{"Agendou"}))
	require.Equal(t, "scheduled", store.stored.Status)
	require.EqualValues(t, 90, *store.stored.ResponseTimeSeconds)
}

func TestApplyInbound_PatientPhoneSkipped(t *testing.T) {
	service, leadRepo, patients := newLeadFixture(t)

	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(nil, apperrors.ErrNotFound)
	patients.On("IsPatientPhone", mock.Anything, testPhone).Return(true, nil)

	err := service.ApplyInbound(testCtx(), testClinicID, testPhone, model.SourcePlatform, time.Now())
	require.NoError(t, err)
	leadRepo.AssertNotCalled(t, "GetOrCreate")
	leadRepo.AssertNotCalled(t, "Update")
}

func TestApplyInbound_RecoversStoppedResponding(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone, Status: "stopped_responding"})
	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(existing, nil)
	leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.Status == "in_conversation"
	})).Return(nil)

	err := service.ApplyInbound(testCtx(), testClinicID, testPhone, model.SourceBus, time.Now())
	require.NoError(t, err)
	leadRepo.AssertExpectations(t)
}

func TestApplyInbound_TerminalStageSticks(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone, Status: "purchased"})
	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(existing, nil)
	leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.Status == "purchased"
	})).Return(nil)

	err := service.ApplyInbound(testCtx(), testClinicID, testPhone, model.SourcePlatform, time.Now())
	require.NoError(t, err)
}

func TestApplyOutbound_UnknownPhoneIsNoOp(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(nil, apperrors.ErrNotFound)

	err := service.ApplyOutbound(testCtx(), testClinicID, testPhone, time.Now())
	require.NoError(t, err)
	leadRepo.AssertNotCalled(t, "Update")
}

func TestApplyOutbound_FirstResponseRecordedOnce(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	inboundAt := time.Now().Add(-90 * time.Second)
	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone, Status: "new"})
	existing.LastInboundAt = &inboundAt

	respondedAt := time.Now()
	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(existing, nil)
	leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.Status == "in_conversation" &&
			l.FirstResponseAt != nil &&
			l.ResponseTimeSeconds != nil && *l.ResponseTimeSeconds == 90
	})).Return(nil)

	err := service.ApplyOutbound(testCtx(), testClinicID, testPhone, respondedAt)
	require.NoError(t, err)
	leadRepo.AssertExpectations(t)
}

func TestApplyOutbound_ExistingFirstResponsePreserved(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	earlier := time.Now().Add(-time.Hour)
	seconds := int64(45)
	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone, Status: "in_conversation"})
	existing.FirstResponseAt = &earlier
	existing.ResponseTimeSeconds = &seconds

	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(existing, nil)
	leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.FirstResponseAt != nil && l.FirstResponseAt.Equal(earlier) &&
			l.ResponseTimeSeconds != nil && *l.ResponseTimeSeconds == 45
	})).Return(nil)

	err := service.ApplyOutbound(testCtx(), testClinicID, testPhone, time.Now())
	require.NoError(t, err)
}

func TestApplyLabels_NoMatchIsNoOp(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	err := service.ApplyLabels(testCtx(), testClinicID, testPhone, model.SourcePlatform, []string{"vip", "urgente"})
	require.NoError(t, err)
	leadRepo.AssertNotCalled(t, "FindByPhone")
}

func TestApplyLabels_AccentInsensitiveOverride(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone, Status: "scheduled"})
	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(existing, nil)
	leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.Status == "no_show"
	})).Return(nil)

	err := service.ApplyLabels(testCtx(), testClinicID, testPhone, model.SourcePlatform, []string{"Não Compareceu"})
	require.NoError(t, err)
	leadRepo.AssertExpectations(t)
}

func TestApplyLabels_SameStatusSkipsUpdate(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone, Status: "scheduled"})
	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(existing, nil)

	err := service.ApplyLabels(testCtx(), testClinicID, testPhone, model.SourcePlatform, []string{"agendado"})
	require.NoError(t, err)
	leadRepo.AssertNotCalled(t, "Update")
}

func TestApplyLabels_DowngradeAllowedAsManualOverride(t *testing.T) {
	service, leadRepo, _ := newLeadFixture(t)

	existing := model.NewLead(&model.Lead{ClinicID: testClinicID, PhoneNumber: testPhone, Status: "purchased"})
	leadRepo.On("FindByPhone", mock.Anything, testPhone).Return(existing, nil)
	leadRepo.On("Update", mock.Anything, mock.MatchedBy(func(l model.Lead) bool {
		return l.Status == "scheduled"
	})).Return(nil)

	err := service.ApplyLabels(testCtx(), testClinicID, testPhone, model.SourcePlatform, []string{"agendamento"})
	require.NoError(t, err)
	leadRepo.AssertExpectations(t)
}
