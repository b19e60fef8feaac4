package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// DefaultReconnectDelay is the fixed spacing between reconnection attempts.
// No backoff and no retry cutoff: this is a long-running background process
// and the channel endpoint comes and goes with the desktop client.
const DefaultReconnectDelay = 5 * time.Second

// ErrNotConnected is returned by gateway calls while no ready connection exists
var ErrNotConnected = errors.New("presence channel not connected")

// State is the presence-channel connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// ClientFactory builds a fresh presence-channel connection. Clients are
// single-use; every attempt gets a new one.
type ClientFactory func() domain.PresenceClient

// Supervisor owns the presence-channel connection lifecycle: it logs in,
// watches for ready/close events, retries at a fixed interval, and triggers
// the media-source bootstrap exactly once on the first successful
// connection. It also implements domain.PresenceGateway over whichever
// connection currently exists.
type Supervisor struct {
	logger    *zap.Logger
	factory   ClientFactory
	clientID  string
	transport domain.Transport
	delay     time.Duration

	connected atomic.Bool

	mu           sync.Mutex
	state        State
	client       domain.PresenceClient
	reconnect    *time.Timer
	bootstrapped bool
	stopped      bool
}

// New creates a supervisor that connects clients from factory and
// bootstraps transport on first ready
func New(logger *zap.Logger, factory ClientFactory, clientID string, transport domain.Transport) *Supervisor {
	return &Supervisor{
		logger:    logger,
		factory:   factory,
		clientID:  clientID,
		transport: transport,
		delay:     DefaultReconnectDelay,
	}
}

// Start makes the first connection attempt
func (s *Supervisor) Start(ctx context.Context) {
	s.Connect(ctx)
}

// Connect tears down any live prior connection, builds a fresh one and
// attempts to authenticate. A failed login schedules a retry.
func (s *Supervisor) Connect(ctx context.Context) {
	s.logger.Info("Connecting to Discord...")

	s.mu.Lock()
	if s.client != nil && s.client.Alive() {
		if err := s.client.Destroy(); err != nil {
			s.logger.Warn("Failed to destroy previous connection", zap.Error(err))
		}
	}
	client := s.factory()
	s.client = client
	s.state = StateConnecting
	s.mu.Unlock()

	go s.watch(ctx, client)

	if err := client.Login(ctx, s.clientID); err != nil {
		s.logger.Error("Discord login failed", zap.Error(err))
		s.scheduleReconnect(ctx)
	}
}

// Stop cancels any pending reconnection and destroys the current connection
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.client != nil {
		if err := s.client.Destroy(); err != nil {
			s.logger.Warn("Failed to destroy connection", zap.Error(err))
		}
		s.client = nil
	}
	s.state = StateDisconnected
	s.connected.Store(false)
}

// State returns the current connection state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether presence emission should be attempted
func (s *Supervisor) Connected() bool {
	return s.connected.Load()
}

// SetActivity forwards a payload to the current connection
func (s *Supervisor) SetActivity(ctx context.Context, activity domain.Activity) error {
	client := s.currentClient()
	if client == nil || !s.connected.Load() {
		return ErrNotConnected
	}
	return client.SetActivity(ctx, activity)
}

// ClearActivity clears the presence on the current connection
func (s *Supervisor) ClearActivity(ctx context.Context) error {
	client := s.currentClient()
	if client == nil || !s.connected.Load() {
		return ErrNotConnected
	}
	return client.ClearActivity(ctx)
}

func (s *Supervisor) currentClient() domain.PresenceClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// watch consumes one connection's lifecycle events until it closes
func (s *Supervisor) watch(ctx context.Context, client domain.PresenceClient) {
	for ev := range client.Events() {
		switch ev.Kind {
		case domain.PresenceReady:
			s.onReady(ctx, ev)
		case domain.PresenceClosed:
			s.onClosed(ctx)
			return
		}
	}
}

func (s *Supervisor) onReady(ctx context.Context, ev domain.PresenceEvent) {
	s.logger.Info("Authed for user", zap.String("user", ev.User))

	s.mu.Lock()
	s.state = StateConnected
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	bootstrap := !s.bootstrapped
	s.bootstrapped = true
	s.mu.Unlock()

	s.connected.Store(true)

	// The media source is bootstrapped at most once per process lifetime,
	// no matter how many times the presence channel reconnects.
	if bootstrap {
		s.logger.Info("Connecting to Roon...")
		if err := s.transport.Connect(ctx); err != nil {
			s.logger.Error("Media source connection failed", zap.Error(err))
		}
	}
}

func (s *Supervisor) onClosed(ctx context.Context) {
	s.logger.Info("Disconnected from discord...")
	s.connected.Store(false)

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	s.scheduleReconnect(ctx)
}

// scheduleReconnect arms the retry timer, replacing any pending one so at
// most a single attempt is ever queued
func (s *Supervisor) scheduleReconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	s.reconnect = time.AfterFunc(s.delay, func() {
		s.Connect(ctx)
	})
}
