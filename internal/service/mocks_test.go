package service

import (
	"context"

	"telefeed/internal/models"
	"telefeed/pkg/telegram/types"

	"github.com/stretchr/testify/mock"
)

type mockDatabase struct {
	mock.Mock
}

func (m *mockDatabase) SaveRule(ctx context.Context, rule *models.Rule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *mockDatabase) GetRule(ctx context.Context, account, name string) (*models.Rule, error) {
	args := m.Called(ctx, account, name)
	if rule := args.Get(0); rule != nil {
		return rule.(*models.Rule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) ListRules(ctx context.Context, account string) ([]models.Rule, error) {
	args := m.Called(ctx, account)
	if rules := args.Get(0); rules != nil {
		return rules.([]models.Rule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) ListAllRules(ctx context.Context) ([]models.Rule, error) {
	args := m.Called(ctx)
	if rules := args.Get(0); rules != nil {
		return rules.([]models.Rule), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) DeleteRule(ctx context.Context, account, name string) error {
	args := m.Called(ctx, account, name)
	return args.Error(0)
}

func (m *mockDatabase) SetRuleActive(ctx context.Context, account, name string, active bool) error {
	args := m.Called(ctx, account, name, active)
	return args.Error(0)
}

func (m *mockDatabase) SaveFilterSet(ctx context.Context, fs *models.FilterSet) error {
	args := m.Called(ctx, fs)
	return args.Error(0)
}

func (m *mockDatabase) GetFilterSets(ctx context.Context, account, ruleName string) ([]models.FilterSet, error) {
	args := m.Called(ctx, account, ruleName)
	if sets := args.Get(0); sets != nil {
		return sets.([]models.FilterSet), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) DeleteFilterSet(ctx context.Context, account, ruleName string, kind models.FilterKind) error {
	args := m.Called(ctx, account, ruleName, kind)
	return args.Error(0)
}

func (m *mockDatabase) SaveTransformSpec(ctx context.Context, spec *models.TransformSpec) error {
	args := m.Called(ctx, spec)
	return args.Error(0)
}

func (m *mockDatabase) GetTransformSpec(ctx context.Context, account, ruleName string) (*models.TransformSpec, error) {
	args := m.Called(ctx, account, ruleName)
	if spec := args.Get(0); spec != nil {
		return spec.(*models.TransformSpec), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) DeleteTransformSpec(ctx context.Context, account, ruleName string) error {
	args := m.Called(ctx, account, ruleName)
	return args.Error(0)
}

func (m *mockDatabase) SaveCorrelation(ctx context.Context, entry *models.CorrelationEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockDatabase) GetCorrelations(ctx context.Context, account string, sourceConvo, sourceMsgID int64) (map[int64]int64, error) {
	args := m.Called(ctx, account, sourceConvo, sourceMsgID)
	if corrs := args.Get(0); corrs != nil {
		return corrs.(map[int64]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) UpdateCorrelationStatus(ctx context.Context, account string, sourceConvo, sourceMsgID, destConvo int64, status models.DeliveryStatus) error {
	args := m.Called(ctx, account, sourceConvo, sourceMsgID, destConvo, status)
	return args.Error(0)
}

func (m *mockDatabase) CleanupOldCorrelations(retentionDays int) error {
	args := m.Called(retentionDays)
	return args.Error(0)
}

func (m *mockDatabase) SaveSession(ctx context.Context, session *models.AccountSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockDatabase) GetSession(ctx context.Context, account string) (*models.AccountSession, error) {
	args := m.Called(ctx, account)
	if session := args.Get(0); session != nil {
		return session.(*models.AccountSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) ListSessions(ctx context.Context) ([]models.AccountSession, error) {
	args := m.Called(ctx)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]models.AccountSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDatabase) DeleteSession(ctx context.Context, account string) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

type mockLicenser struct {
	mock.Mock
}

func (m *mockLicenser) HasAccess(ctx context.Context, account string) (bool, error) {
	args := m.Called(ctx, account)
	return args.Bool(0), args.Error(1)
}

func (m *mockLicenser) RemainingRedirectionQuota(ctx context.Context, account string) (int, error) {
	args := m.Called(ctx, account)
	return args.Int(0), args.Error(1)
}

func (m *mockLicenser) ConsumeRedirectionSlot(ctx context.Context, account string) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockLicenser) ReleaseRedirectionSlot(ctx context.Context, account string) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) RequestCode(ctx context.Context, account string) (*types.RequestCodeResponse, error) {
	args := m.Called(ctx, account)
	if resp := args.Get(0); resp != nil {
		return resp.(*types.RequestCodeResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) SubmitCode(ctx context.Context, req types.SubmitCodeRequest) (*types.SubmitCodeResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*types.SubmitCodeResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) RestoreSession(ctx context.Context, account, authBlob string) error {
	args := m.Called(ctx, account, authBlob)
	return args.Error(0)
}

func (m *mockGateway) SessionStatus(ctx context.Context, account string) (*types.SessionStatusResponse, error) {
	args := m.Called(ctx, account)
	if resp := args.Get(0); resp != nil {
		return resp.(*types.SessionStatusResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Logout(ctx context.Context, account string) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *mockGateway) SendMessage(ctx context.Context, req types.SendMessageRequest) (*types.SendMessageResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*types.SendMessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) EditMessage(ctx context.Context, req types.EditMessageRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *mockGateway) GetEntity(ctx context.Context, account string, convo int64) (*types.Entity, error) {
	args := m.Called(ctx, account, convo)
	if entity := args.Get(0); entity != nil {
		return entity.(*types.Entity), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) Subscribe(ctx context.Context, account string) (<-chan types.MessageEvent, error) {
	args := m.Called(ctx, account)
	if ch := args.Get(0); ch != nil {
		return ch.(chan types.MessageEvent), args.Error(1)
	}
	return nil, args.Error(1)
}
