package heartbeat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/packet"
	"github.com/EO-DataHub/eodhp-heartbeat-services/internal/socket"
	"github.com/EO-DataHub/eodhp-heartbeat-services/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, typ packet.Type, pid int32, id string, ts time.Time) socket.Request {
	t.Helper()
	buf, err := packet.Encode(packet.New(typ, pid, id, ts))
	require.NoError(t, err)
	return socket.Request{Data: buf}
}

func TestHandleRequest_Heartbeat(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ts := time.Unix(1111, 0)

	require.NoError(t, m.HandleRequest(context.Background(), encode(t, packet.Heartbeat, 9999, "", ts)))

	c, ok := m.Client(9999)
	require.True(t, ok)
	assert.True(t, ts.Equal(c.LastHeartbeat))
}

func TestHandleRequest_Register(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ts := time.Unix(1111, 0)

	require.NoError(t, m.HandleRequest(context.Background(), encode(t, packet.Register, 9999, "test", ts)))

	c, ok := m.Client(9999)
	require.True(t, ok)
	assert.Equal(t, "test", c.ProcessName)
}

func TestHandleRequest_Deregister(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ctx := context.Background()
	ts := time.Unix(1111, 0)

	require.NoError(t, m.HandleRequest(ctx, encode(t, packet.Register, 9999, "test", ts)))
	require.NoError(t, m.HandleRequest(ctx, encode(t, packet.Deregister, 9999, "", ts)))

	_, ok := m.Client(9999)
	assert.False(t, ok)
}

func TestHandleRequest_InvalidPacket(t *testing.T) {
	m := NewMonitor(MonitorOptions{})

	err := m.HandleRequest(context.Background(), socket.Request{Data: []byte{0x00, 0x01}})
	assert.ErrorIs(t, err, packet.ErrShortPacket)
	assert.Empty(t, m.Clients())
}

func TestHeartbeat_RecordsData(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ts := time.Unix(1111, 0)

	m.Heartbeat(context.Background(), 9999, ts, "test")

	c, ok := m.Client(9999)
	require.True(t, ok)
	assert.True(t, ts.Equal(c.LastHeartbeat))
	assert.Equal(t, "test", c.ProcessName)
}

func TestHeartbeat_KeepsProcessName(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ctx := context.Background()

	m.Register(ctx, 9999, time.Unix(1111, 0), "worker")
	m.Heartbeat(ctx, 9999, time.Unix(2222, 0), "")

	c, _ := m.Client(9999)
	assert.Equal(t, "worker", c.ProcessName)
	assert.True(t, time.Unix(2222, 0).Equal(c.LastHeartbeat))
}

func TestRegister_OverwritesExistingClient(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ctx := context.Background()

	m.Heartbeat(ctx, 9999, time.Unix(1111, 0), "test")
	m.Register(ctx, 9999, time.Unix(2222, 0), "test")

	c, _ := m.Client(9999)
	assert.True(t, time.Unix(2222, 0).Equal(c.LastHeartbeat))
	assert.Equal(t, "test", c.ProcessName)
}

func TestDeregister_RemovesClient(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ctx := context.Background()

	m.Register(ctx, 9999, time.Unix(1111, 0), "test")
	require.NoError(t, m.Deregister(ctx, 9999, time.Unix(1111, 0)))

	_, ok := m.Client(9999)
	assert.False(t, ok)
}

func TestDeregister_UnknownClient(t *testing.T) {
	m := NewMonitor(MonitorOptions{})

	err := m.Deregister(context.Background(), 42, time.Now())
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestRequestHook_NotifiesMissedHeartbeat(t *testing.T) {
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(mh models.MissedHeartbeat) bool {
		return mh.PID == 9999 && mh.ProcessName == "test"
	})).Return(nil).Once()

	m := NewMonitor(MonitorOptions{Notifier: notifier})
	m.Register(context.Background(), 9999, time.Unix(1111, 0), "test")

	m.RequestHook(context.Background())

	notifier.AssertExpectations(t)
	c, _ := m.Client(9999)
	assert.True(t, c.Missed)
}

func TestRequestHook_IgnoresRecentHeartbeat(t *testing.T) {
	notifier := &MockNotifier{}

	m := NewMonitor(MonitorOptions{Notifier: notifier, Threshold: time.Minute})
	m.Heartbeat(context.Background(), 9999, time.Now(), "test")

	m.RequestHook(context.Background())

	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestRequestHook_NotifiesOncePerEpisode(t *testing.T) {
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	now := time.Unix(10_000, 0)
	m := NewMonitor(MonitorOptions{Notifier: notifier, Threshold: 10 * time.Second})
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Register(ctx, 1, now.Add(-time.Minute), "test")
	m.RequestHook(ctx)
	m.RequestHook(ctx)
	notifier.AssertNumberOfCalls(t, "Notify", 1)

	// A new heartbeat re-arms the alert.
	m.Heartbeat(ctx, 1, now, "")
	m.RequestHook(ctx)
	notifier.AssertNumberOfCalls(t, "Notify", 1)

	now = now.Add(time.Minute)
	m.RequestHook(ctx)
	notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestRequestHook_NotifierErrorDoesNotStop(t *testing.T) {
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("boom"))

	m := NewMonitor(MonitorOptions{Notifier: notifier})
	ctx := context.Background()
	m.Register(ctx, 1, time.Unix(1, 0), "a")
	m.Register(ctx, 2, time.Unix(1, 0), "b")

	m.RequestHook(ctx)

	notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestRequestHook_RetriesFailedNotification(t *testing.T) {
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("throttled")).Once()
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	store := &MockStore{}
	store.On("UpsertClient", mock.Anything, mock.Anything).Return(nil)
	store.On("InsertMissedHeartbeat", mock.Anything, mock.Anything).Return(nil)

	now := time.Unix(10_000, 0)
	m := NewMonitor(MonitorOptions{Notifier: notifier, Store: store, Threshold: 10 * time.Second})
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Register(ctx, 1, now.Add(-time.Minute), "test")

	m.RequestHook(ctx)
	c, _ := m.Client(1)
	assert.False(t, c.Missed)
	store.AssertNotCalled(t, "InsertMissedHeartbeat", mock.Anything, mock.Anything)

	for i := 0; i < 4; i++ {
		now = now.Add(10 * time.Second)
		m.RequestHook(ctx)
	}

	notifier.AssertNumberOfCalls(t, "Notify", 2)
	store.AssertNumberOfCalls(t, "InsertMissedHeartbeat", 1)
	c, _ = m.Client(1)
	assert.True(t, c.Missed)
}

func TestRequestHook_FailedNotificationKeepsNewHeartbeat(t *testing.T) {
	now := time.Unix(10_000, 0)
	notifier := &MockNotifier{}
	m := NewMonitor(MonitorOptions{Notifier: notifier, Threshold: 10 * time.Second})
	m.now = func() time.Time { return now }
	ctx := context.Background()

	// The client beats again while its alert is being sent.
	notifier.On("Notify", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { m.Heartbeat(ctx, 1, now, "") }).
		Return(errors.New("throttled")).Once()

	m.Register(ctx, 1, now.Add(-time.Minute), "test")
	m.RequestHook(ctx)
	m.RequestHook(ctx)

	notifier.AssertNumberOfCalls(t, "Notify", 1)
	c, _ := m.Client(1)
	assert.False(t, c.Missed)
	assert.True(t, now.Equal(c.LastHeartbeat))
}

func TestRequestHook_WithoutNotifier(t *testing.T) {
	store := &MockStore{}
	store.On("UpsertClient", mock.Anything, mock.Anything).Return(nil)
	store.On("InsertMissedHeartbeat", mock.Anything, mock.MatchedBy(func(mh models.MissedHeartbeat) bool {
		return mh.PID == 3
	})).Return(nil).Once()

	m := NewMonitor(MonitorOptions{Store: store})
	ctx := context.Background()
	m.Register(ctx, 3, time.Unix(1, 0), "c")

	m.RequestHook(ctx)
	m.RequestHook(ctx)

	store.AssertExpectations(t)
	c, _ := m.Client(3)
	assert.True(t, c.Missed)
}

func TestStore_ReceivesRegistryChanges(t *testing.T) {
	store := &MockStore{}
	ctx := context.Background()
	reg := time.Unix(1111, 0)
	beat := time.Unix(1112, 0)

	store.On("UpsertClient", ctx, models.Client{PID: 7, ProcessName: "svc", LastHeartbeat: reg, RegisteredAt: reg}).Return(nil)
	store.On("TouchClient", ctx, int32(7), beat).Return(nil)
	store.On("InsertMissedHeartbeat", ctx, mock.AnythingOfType("models.MissedHeartbeat")).Return(nil)
	store.On("DeleteClient", ctx, int32(7)).Return(errors.New("db down"))

	notifier := &MockNotifier{}
	notifier.On("Notify", ctx, mock.Anything).Return(nil)

	m := NewMonitor(MonitorOptions{Notifier: notifier, Store: store})
	m.Register(ctx, 7, reg, "svc")
	m.Heartbeat(ctx, 7, beat, "")
	m.RequestHook(ctx)
	require.NoError(t, m.Deregister(ctx, 7, beat))

	store.AssertExpectations(t)
}

func TestClients_SortedSnapshot(t *testing.T) {
	m := NewMonitor(MonitorOptions{})
	ctx := context.Background()

	m.Register(ctx, 30, time.Unix(1, 0), "c")
	m.Register(ctx, 10, time.Unix(1, 0), "a")
	m.Register(ctx, 20, time.Unix(1, 0), "b")

	clients := m.Clients()
	require.Len(t, clients, 3)
	assert.Equal(t, []int32{10, 20, 30}, []int32{clients[0].PID, clients[1].PID, clients[2].PID})

	// Mutating the snapshot must not affect the registry.
	clients[0].ProcessName = "changed"
	c, _ := m.Client(10)
	assert.Equal(t, "a", c.ProcessName)
}

func TestRestore_SeedsRegistry(t *testing.T) {
	m := NewMonitor(MonitorOptions{})

	m.Restore([]models.Client{{PID: 1, ProcessName: "a"}, {PID: 2, ProcessName: "b"}})

	assert.Len(t, m.Clients(), 2)
	c, ok := m.Client(2)
	require.True(t, ok)
	assert.Equal(t, "b", c.ProcessName)
}
