package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
	"github.com/LGGGreg/roon-discord-publish/internal/domain/mocks"
)

// fakeClient is a controllable presence connection. Ready and closed events
// are injected from the test; the event channel is closed on destroy or on a
// failed login, matching the real client's contract.
type fakeClient struct {
	events   chan domain.PresenceEvent
	loginErr error

	closeOnce sync.Once

	mu         sync.Mutex
	alive      bool
	activities []domain.Activity
	clears     int
}

func newFakeClient(loginErr error) *fakeClient {
	return &fakeClient{
		events:   make(chan domain.PresenceEvent, 4),
		loginErr: loginErr,
	}
}

func (f *fakeClient) Login(context.Context, string) error {
	if f.loginErr != nil {
		f.closeEvents()
		return f.loginErr
	}
	f.mu.Lock()
	f.alive = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Events() <-chan domain.PresenceEvent { return f.events }

func (f *fakeClient) SetActivity(_ context.Context, a domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
	return nil
}

func (f *fakeClient) ClearActivity(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeClient) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeClient) Destroy() error {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
	f.closeEvents()
	return nil
}

func (f *fakeClient) closeEvents() {
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeClient) emitReady(user string) {
	f.events <- domain.PresenceEvent{Kind: domain.PresenceReady, User: user}
}

func (f *fakeClient) emitClosed() {
	f.events <- domain.PresenceEvent{Kind: domain.PresenceClosed}
}

// countingFactory hands out fakeClients and records every one it made
type countingFactory struct {
	mu       sync.Mutex
	made     []*fakeClient
	loginErr []error // per-attempt login outcome, nil past the end
}

func (c *countingFactory) build() domain.PresenceClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if len(c.made) < len(c.loginErr) {
		err = c.loginErr[len(c.made)]
	}
	client := newFakeClient(err)
	c.made = append(c.made, client)
	return client
}

func (c *countingFactory) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.made)
}

func (c *countingFactory) client(i int) *fakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.made[i]
}

func TestSupervisor_ReadyConnectsAndBootstrapsTransport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Connect(gomock.Any()).Return(nil).Times(1)

	factory := &countingFactory{}
	sup := New(zap.NewNop(), factory.build, "app-id", transport)
	defer sup.Stop()

	sup.Start(context.Background())
	require.Equal(t, 1, factory.count())
	assert.False(t, sup.Connected())

	factory.client(0).emitReady("fox")
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)
	assert.Equal(t, StateConnected, sup.State())

	require.NoError(t, sup.SetActivity(context.Background(), domain.Activity{Details: "Song"}))
	require.NoError(t, sup.ClearActivity(context.Background()))

	client := factory.client(0)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.activities, 1)
	assert.Equal(t, 1, client.clears)
}

func TestSupervisor_LoginFailureRetriesWithFreshClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Connect(gomock.Any()).Return(nil).Times(1)

	factory := &countingFactory{loginErr: []error{errors.New("socket unavailable")}}
	sup := New(zap.NewNop(), factory.build, "app-id", transport)
	sup.delay = 5 * time.Millisecond
	defer sup.Stop()

	sup.Start(context.Background())

	// The retry timer fires and builds a second client
	require.Eventually(t, func() bool { return factory.count() >= 2 },
		time.Second, time.Millisecond)

	factory.client(1).emitReady("fox")
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)
}

func TestSupervisor_RepeatedFailuresKeepOnePendingRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Connect(gomock.Any()).Return(nil).AnyTimes()

	factory := &countingFactory{loginErr: []error{
		errors.New("socket unavailable"),
		errors.New("socket unavailable"),
	}}
	sup := New(zap.NewNop(), factory.build, "app-id", transport)
	sup.delay = 20 * time.Millisecond
	defer sup.Stop()

	// Two failed attempts inside one delay window: the second replaces the
	// pending timer instead of stacking a second one
	sup.Start(context.Background())
	sup.Connect(context.Background())
	require.Equal(t, 2, factory.count())

	require.Eventually(t, func() bool { return factory.count() == 3 },
		time.Second, time.Millisecond)
	factory.client(2).emitReady("fox")
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)

	// Were both timers armed, a fourth client would appear here
	time.Sleep(3 * sup.delay)
	assert.Equal(t, 3, factory.count())
}

func TestSupervisor_BootstrapHappensOnceAcrossReconnects(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Connect(gomock.Any()).Return(nil).Times(1)

	factory := &countingFactory{}
	sup := New(zap.NewNop(), factory.build, "app-id", transport)
	sup.delay = 5 * time.Millisecond
	defer sup.Stop()

	sup.Start(context.Background())
	factory.client(0).emitReady("fox")
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)

	// Drop the channel: a reconnect follows, but no second bootstrap
	factory.client(0).emitClosed()
	require.Eventually(t, func() bool { return factory.count() >= 2 },
		time.Second, time.Millisecond)

	factory.client(1).emitReady("fox")
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)
}

func TestSupervisor_ClosedEventDisconnectsGateway(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Connect(gomock.Any()).Return(nil).AnyTimes()

	factory := &countingFactory{}
	sup := New(zap.NewNop(), factory.build, "app-id", transport)
	sup.delay = time.Hour // keep the retry out of this test
	defer sup.Stop()

	sup.Start(context.Background())
	factory.client(0).emitReady("fox")
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)

	factory.client(0).emitClosed()
	require.Eventually(t, func() bool { return !sup.Connected() },
		time.Second, time.Millisecond)

	assert.ErrorIs(t, sup.SetActivity(context.Background(), domain.Activity{}), ErrNotConnected)
	assert.ErrorIs(t, sup.ClearActivity(context.Background()), ErrNotConnected)
}

func TestSupervisor_StopCancelsPendingReconnect(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := mocks.NewMockTransport(ctrl)
	transport.EXPECT().Connect(gomock.Any()).Return(nil).AnyTimes()

	factory := &countingFactory{}
	sup := New(zap.NewNop(), factory.build, "app-id", transport)
	sup.delay = 10 * time.Millisecond

	sup.Start(context.Background())
	factory.client(0).emitReady("fox")
	require.Eventually(t, sup.Connected, time.Second, time.Millisecond)

	factory.client(0).emitClosed()
	sup.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, factory.count())
	assert.False(t, sup.Connected())
	assert.Equal(t, StateDisconnected, sup.State())
	assert.ErrorIs(t, sup.SetActivity(context.Background(), domain.Activity{}), ErrNotConnected)
}

func TestSupervisor_GatewayBeforeAnyConnection(t *testing.T) {
	sup := New(zap.NewNop(), (&countingFactory{}).build, "app-id", nil)

	assert.False(t, sup.Connected())
	assert.ErrorIs(t, sup.SetActivity(context.Background(), domain.Activity{}), ErrNotConnected)
	assert.ErrorIs(t, sup.ClearActivity(context.Background()), ErrNotConnected)
}
