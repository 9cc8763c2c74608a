package heartbeat

import (
	"context"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	mock.Mock
}

type MockStore struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, missed models.MissedHeartbeat) error {
	args := m.Called(ctx, missed)
	return args.Error(0)
}

func (m *MockStore) UpsertClient(ctx context.Context, client models.Client) error {
	args := m.Called(ctx, client)
	return args.Error(0)
}

func (m *MockStore) TouchClient(ctx context.Context, pid int32, lastHeartbeat time.Time) error {
	args := m.Called(ctx, pid, lastHeartbeat)
	return args.Error(0)
}

func (m *MockStore) DeleteClient(ctx context.Context, pid int32) error {
	args := m.Called(ctx, pid)
	return args.Error(0)
}

func (m *MockStore) InsertMissedHeartbeat(ctx context.Context, missed models.MissedHeartbeat) error {
	args := m.Called(ctx, missed)
	return args.Error(0)
}
