package manager

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kestrelhq/wsgateway/gateway"
	"github.com/kestrelhq/wsgateway/internal/config"
	"github.com/kestrelhq/wsgateway/internal/metrics"
	resumestore "github.com/kestrelhq/wsgateway/internal/store"
	"github.com/kestrelhq/wsgateway/internal/webhook"
)

// Common errors.
var (
	ErrTargetNotFound     = errors.New("target not found")
	ErrTooManyConnections = errors.New("maximum connections reached")
	ErrAlreadyConnected   = errors.New("already connected")
	ErrNotConnected       = errors.New("not connected")
)

// GatewayURLFunc resolves the URL every fresh connection dials. Resumes may
// override it with the resume endpoint the last READY advertised; that is
// handled inside gateway.GatewayClient.
type GatewayURLFunc func(ctx context.Context) (string, error)

// DispatchRelay forwards decoded dispatch events somewhere downstream
// (internal/relay/amqprelay implements it over AMQP).
type DispatchRelay interface {
	RelayDispatch(ctx context.Context, targetID, eventName string, sequence int64, data []byte) error
}

// resumeHintSaver is the optional extension a ConfigStore may implement to
// persist resume hints next to the target rows (the Postgres store does).
type resumeHintSaver interface {
	SaveResumeHint(targetID, sessionID string, sequence int64) error
}

// Options configures a Manager.
type Options struct {
	Store       config.ConfigStore
	ResumeStore resumestore.ResumeStore // optional; nil disables cross-restart resume hints

	Transport  gateway.WsTransport
	Codec      gateway.PayloadCodec
	GatewayURL GatewayURLFunc

	// UserAgent is sent on the WebSocket upgrade for every connection.
	UserAgent string

	Webhook *webhook.Notifier // optional
	Relay   DispatchRelay     // optional

	Logger *slog.Logger

	// OnStatusChange is invoked from the manager's own goroutines; callers
	// (internal/ws) must not block inside it for long.
	OnStatusChange func(targetID string, status ConnectionStatus, message string)
}

// Manager supervises one gateway.GatewayClient per config.Target: it
// handles auto-connect, manual join/rejoin/exit, status fan-out, metrics,
// and resume-hint persistence.
type Manager struct {
	opts   Options
	logger *slog.Logger
	props  *gateway.PropertiesRotator

	sessions map[string]*session
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

type session struct {
	target config.Target
	state  *SessionState
	client *gateway.GatewayClient

	ctx    context.Context
	cancel context.CancelFunc
}

// identityPool is the set of client properties successive connections
// rotate through, so the server's per-token Identify accounting doesn't see
// every shard as the same device.
var identityPool = []gateway.IdentifyProperties{
	{OS: "linux", Browser: "wsgateway", Device: "wsgateway"},
	{OS: "linux", Browser: "chrome", Device: "wsgateway"},
	{OS: "windows", Browser: "wsgateway", Device: "wsgateway"},
}

// New creates a new Manager.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		logger:   logger.With("component", "manager"),
		props:    gateway.NewPropertiesRotator(identityPool),
		sessions: make(map[string]*session),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start loads the configuration and auto-connects every target with
// ConnectOnStart set, staggered to respect the Identify rate limit and let
// a previous rolling-deploy instance finish closing first.
func (m *Manager) Start() error {
	cfg, err := m.opts.Store.Load()
	if err != nil {
		return err
	}

	var toConnect []config.Target
	for _, t := range cfg.Targets {
		if t.ConnectOnStart {
			toConnect = append(toConnect, t)
		}
	}
	sort.SliceStable(toConnect, func(i, j int) bool {
		return toConnect[i].Priority < toConnect[j].Priority
	})

	if len(toConnect) > 0 {
		go func() {
			time.Sleep(5 * time.Second)
			for i, t := range toConnect {
				if i > 0 {
					time.Sleep(2 * time.Second)
				}
				if err := m.Join(t.ID); err != nil {
					m.logger.Error("failed to auto-connect", "target_id", t.ID, "error", err)
				}
			}
		}()
	}
	return nil
}

// Stop gracefully closes every supervised connection.
func (m *Manager) Stop() {
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		m.logger.Info("stopping session", "target_id", id)
		if s.client != nil {
			s.client.Close(false)
		}
		s.cancel()
	}
}

// Join starts a connection for a configured target.
func (m *Manager) Join(targetID string) error {
	cfg, err := m.opts.Store.Load()
	if err != nil {
		return err
	}

	var target *config.Target
	for i := range cfg.Targets {
		if cfg.Targets[i].ID == targetID {
			target = &cfg.Targets[i]
			break
		}
	}
	if target == nil {
		return ErrTargetNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, exists := m.sessions[targetID]; exists {
		switch s.state.ConnectionStatus {
		case StatusConnected, StatusConnecting:
			return ErrAlreadyConnected
		}
	}
	if len(m.sessions) >= config.MaxTargets {
		return ErrTooManyConnections
	}

	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		target: *target,
		state:  NewSessionState(targetID),
		ctx:    ctx,
		cancel: cancel,
	}
	m.sessions[targetID] = s

	go m.runSession(s)
	return nil
}

// Rejoin closes an existing connection (if any) and reconnects fresh.
func (m *Manager) Rejoin(targetID string) error {
	m.mu.Lock()
	s, exists := m.sessions[targetID]
	m.mu.Unlock()

	if !exists {
		return m.Join(targetID)
	}

	if s.client != nil {
		s.client.Close(false)
	}
	s.cancel()

	m.mu.Lock()
	delete(m.sessions, targetID)
	m.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	return m.Join(targetID)
}

// Exit closes a connection and stops its reconnection loop.
func (m *Manager) Exit(targetID string) error {
	m.mu.Lock()
	s, exists := m.sessions[targetID]
	if !exists {
		m.mu.Unlock()
		return ErrNotConnected
	}
	s.state.MarkDisconnected()
	m.mu.Unlock()

	m.notifyStatusChange(targetID, StatusDisconnected, "exit requested")

	if s.client != nil {
		s.client.Close(false)
	}
	s.cancel()

	m.mu.Lock()
	delete(m.sessions, targetID)
	m.mu.Unlock()

	metrics.SessionsAlive.WithLabelValues(targetID).Set(0)
	m.logger.Info("session exited", "target_id", targetID)
	return nil
}

// GetStatus returns the current status of a target's session.
func (m *Manager) GetStatus(targetID string) ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[targetID]
	if !exists {
		return StatusDisconnected
	}
	return s.state.ConnectionStatus
}

// GetAllStatuses returns status for every supervised session.
func (m *Manager) GetAllStatuses() map[string]ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ConnectionStatus, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s.state.ConnectionStatus
	}
	return out
}

// runSession builds a gateway.GatewayClient for one target, runs it, and
// relays its dispatch stream into status-change notifications and
// resume-hint persistence until the session is torn down.
func (m *Manager) runSession(s *session) {
	targetID := s.target.ID
	m.logger.Info("starting session", "target_id", targetID)

	resumeSessionID, resumeSequence := m.loadResumeHint(s)

	client := gateway.NewGatewayClient(gateway.ClientConfig{
		Token:           s.target.Token,
		Transport:       m.opts.Transport,
		Codec:           m.opts.Codec,
		Identify:        m.props,
		Intents:         s.target.Intents,
		ShardID:         s.target.ShardID,
		ShardCount:      s.target.ShardCount,
		ResumeSessionID: resumeSessionID,
		ResumeSequence:  resumeSequence,
		IdentifyLimiter: gateway.NewIdentifyLimiter(5 * time.Second),
		Headers:         map[string]string{"User-Agent": m.opts.UserAgent},
		Logger:          slogGatewayLogger{l: m.logger.With("target_id", targetID)},
	})
	s.client = client

	go m.watchDispatch(s, client)

	url, err := m.resolveGatewayURL(s.ctx)
	if err != nil {
		m.logger.Error("failed to resolve gateway url", "target_id", targetID, "error", err)
		s.state.MarkError(err.Error())
		m.notifyStatusChange(targetID, StatusError, err.Error())
		return
	}

	if err := client.Run(s.ctx, url); err != nil && !errors.Is(err, context.Canceled) {
		s.state.MarkError(err.Error())
		m.notifyStatusChange(targetID, StatusError, err.Error())
	}
	metrics.SessionsAlive.WithLabelValues(targetID).Set(0)
}

// loadResumeHint resolves the freshest resume hint for a target: the resume
// store first (it is written live, so it outlives any config snapshot), the
// persisted target row as a fallback.
func (m *Manager) loadResumeHint(s *session) (string, int64) {
	if m.opts.ResumeStore != nil {
		sessionID, haveSession, err := m.opts.ResumeStore.GetSessionID(m.ctx, s.target.ID)
		if err != nil {
			m.logger.Warn("failed to load resume session id", "target_id", s.target.ID, "error", err)
		} else if haveSession {
			sequence, haveSeq, err := m.opts.ResumeStore.GetSequence(m.ctx, s.target.ID)
			if err != nil {
				m.logger.Warn("failed to load resume sequence", "target_id", s.target.ID, "error", err)
			} else if haveSeq {
				return sessionID, sequence
			}
		}
	}
	return s.target.ResumeSessionID, s.target.ResumeSequence
}

func (m *Manager) resolveGatewayURL(ctx context.Context) (string, error) {
	if m.opts.GatewayURL == nil {
		return "", errors.New("manager: no gateway URL resolver configured")
	}
	return m.opts.GatewayURL(ctx)
}

// watchDispatch drains one session's dispatch stream for its entire
// lifetime, translating gateway.GatewayStateChange items into the
// manager's coarser ConnectionStatus, updating metrics, relaying events
// downstream, and persisting resume hints.
func (m *Manager) watchDispatch(s *session, client *gateway.GatewayClient) {
	targetID := s.target.ID
	for {
		select {
		case <-s.ctx.Done():
			return
		case item, ok := <-client.Dispatch():
			if !ok {
				return
			}
			if item.StateChange != nil {
				m.handleStateChange(s, *item.StateChange)
			}
			if item.Dispatch != nil {
				metrics.PacketsReceived.WithLabelValues(item.Dispatch.EventName, targetID).Inc()
				if item.Dispatch.Sequence > 0 {
					s.state.UpdateSequence(item.Dispatch.Sequence)
					metrics.ResumeSequence.WithLabelValues(targetID).Set(float64(item.Dispatch.Sequence))
					m.persistResumeHint(s)
				}
				m.relayDispatch(s, *item.Dispatch)
			}
		}
	}
}

func (m *Manager) relayDispatch(s *session, d gateway.Dispatch) {
	if m.opts.Relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := m.opts.Relay.RelayDispatch(ctx, s.target.ID, d.EventName, d.Sequence, d.Data); err != nil {
		m.logger.Warn("failed to relay dispatch", "target_id", s.target.ID, "event", d.EventName, "error", err)
	}
}

func (m *Manager) handleStateChange(s *session, sc gateway.GatewayStateChange) {
	targetID := s.target.ID
	switch sc.Kind {
	case gateway.StateChangeConnected, gateway.StateChangeRetrySucceeded:
		s.state.MarkConnected(s.client.SessionID())
		metrics.SessionsAlive.WithLabelValues(targetID).Set(1)
		m.notifyStatusChange(targetID, StatusConnected, "connected")
		m.opts.Webhook.NotifyUp(targetID)
		m.persistResumeHint(s)
		m.announcePresence(s)
	case gateway.StateChangeDisconnected:
		s.state.MarkDisconnected()
		metrics.SessionsAlive.WithLabelValues(targetID).Set(0)
		m.notifyStatusChange(targetID, StatusDisconnected, "disconnected")
		reason := "disconnected"
		if sc.Err != nil {
			reason = sc.Err.Error()
		}
		m.opts.Webhook.NotifyDown(targetID, reason)
	case gateway.StateChangeRetryStarted:
		s.state.MarkBackoff(int(sc.Attempt))
		metrics.SessionsAlive.WithLabelValues(targetID).Set(0)
		metrics.Reconnects.WithLabelValues(targetID).Inc()
		m.notifyStatusChange(targetID, StatusBackoff, "reconnecting")
		m.opts.Webhook.NotifyReconnecting(targetID, int(sc.Attempt), sc.Delay)
	case gateway.StateChangeRetryFailed:
		msg := "retry failed"
		if sc.Err != nil {
			msg = sc.Err.Error()
		}
		s.state.MarkError(msg)
		m.notifyStatusChange(targetID, StatusError, msg)
	}
}

// announcePresence pushes the configured presence status and, when a voice
// channel is configured, the voice state update onto the client's sender
// sink after every (re)connect. Both commands are declarative on the server
// side, so re-sending after a resume is harmless.
func (m *Manager) announcePresence(s *session) {
	status := s.target.Status
	if status == "" {
		status = config.StatusOnline
	}
	presence, err := json.Marshal(map[string]any{
		"since":      nil,
		"activities": []any{},
		"status":     string(status),
		"afk":        false,
	})
	if err == nil {
		m.enqueueCommand(s, gateway.GatewayPayload{Op: gateway.OpStatusUpdate, Data: presence})
	}

	if s.target.GuildID == "" || s.target.ChannelID == "" {
		return
	}
	voice, err := json.Marshal(map[string]any{
		"guild_id":   s.target.GuildID,
		"channel_id": s.target.ChannelID,
		"self_mute":  s.target.SelfMute,
		"self_deaf":  s.target.SelfDeaf,
	})
	if err != nil {
		m.logger.Error("failed to marshal voice state", "target_id", s.target.ID, "error", err)
		return
	}
	m.enqueueCommand(s, gateway.GatewayPayload{Op: gateway.OpVoiceStateUpdate, Data: voice})
}

func (m *Manager) enqueueCommand(s *session, p gateway.GatewayPayload) {
	select {
	case s.client.Sender() <- p:
		metrics.PacketsSent.WithLabelValues(strconv.Itoa(int(p.Op)), s.target.ID).Inc()
	case <-s.ctx.Done():
	case <-time.After(5 * time.Second):
		m.logger.Warn("sender sink full, dropping command", "target_id", s.target.ID, "op", int(p.Op))
	}
}

func (m *Manager) persistResumeHint(s *session) {
	sessionID, sequence, ok := sessionResumeParams(s.client)
	if !ok {
		return
	}
	if m.opts.ResumeStore != nil {
		if err := m.opts.ResumeStore.SetSessionID(s.ctx, s.target.ID, sessionID); err != nil {
			m.logger.Warn("failed to persist resume session id", "target_id", s.target.ID, "error", err)
		}
		if err := m.opts.ResumeStore.SetSequence(s.ctx, s.target.ID, sequence); err != nil {
			m.logger.Warn("failed to persist resume sequence", "target_id", s.target.ID, "error", err)
		}
	}
	if saver, ok := m.opts.Store.(resumeHintSaver); ok {
		if err := saver.SaveResumeHint(s.target.ID, sessionID, sequence); err != nil {
			m.logger.Warn("failed to persist resume hint", "target_id", s.target.ID, "error", err)
		}
	}
}

func sessionResumeParams(client *gateway.GatewayClient) (string, int64, bool) {
	sessionID := client.SessionID()
	sequence, hasSequence := client.Sequence()
	if sessionID == "" || !hasSequence {
		return "", 0, false
	}
	return sessionID, sequence, true
}

func (m *Manager) notifyStatusChange(targetID string, status ConnectionStatus, message string) {
	if m.opts.OnStatusChange != nil {
		m.opts.OnStatusChange(targetID, status, message)
	}
}

// slogGatewayLogger adapts *slog.Logger to gateway.Logger.
type slogGatewayLogger struct{ l *slog.Logger }

func (g slogGatewayLogger) Debug(msg string, kv ...any) { g.l.Debug(msg, kv...) }
func (g slogGatewayLogger) Info(msg string, kv ...any)  { g.l.Info(msg, kv...) }
func (g slogGatewayLogger) Warn(msg string, kv ...any)  { g.l.Warn(msg, kv...) }
func (g slogGatewayLogger) Error(msg string, kv ...any) { g.l.Error(msg, kv...) }
