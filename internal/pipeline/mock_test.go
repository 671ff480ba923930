package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/meters-to-ha/internal/model"
)

// --- Injector Mock ---

type mockInjector struct {
	mock.Mock
}

func (m *mockInjector) Name() string { return "mock" }

func (m *mockInjector) SanityCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockInjector) LastGasState(ctx context.Context) (model.CumulativeState, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.CumulativeState), args.Error(1)
}

func (m *mockInjector) PushWater(ctx context.Context, u model.WaterUpdate) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockInjector) PushGas(ctx context.Context, u model.GasUpdate) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockInjector) WantsHistory() bool {
	return m.Called().Bool(0)
}

// --- Session Mock ---

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSession) Stop(keep bool) {
	m.Called(keep)
}

func (m *mockSession) Engine() string { return "fake" }

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, p model.Provider) (model.Artifact, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(model.Artifact), args.Error(1)
}
