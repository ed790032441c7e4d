package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/agent"
	"voiceagent-server/pkg/audio"
	"voiceagent-server/pkg/errors"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/messaging"
	"voiceagent-server/pkg/stt"
	"voiceagent-server/pkg/tools"
	"voiceagent-server/pkg/tts"
)

// Dependencies are the shared components every call session is built from
type Dependencies struct {
	STTManager      *stt.ProviderManager
	SegmenterConfig stt.SegmenterConfig
	VADConfig       audio.Config

	AgentService agent.Service
	Registry     *tools.Registry

	Synthesizer    tts.Synthesizer
	StreamerConfig tts.StreamerConfig

	TransportConfig   media.TransportConfig
	CoordinatorConfig CoordinatorConfig

	Sink messaging.Sink
}

// ManagerConfig holds session manager tuning
type ManagerConfig struct {
	// CleanupInterval between stale-session sweeps
	CleanupInterval time.Duration

	// MaxCallDuration force-terminates calls that run too long
	MaxCallDuration time.Duration
}

// DefaultManagerConfig returns manager defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		CleanupInterval: 30 * time.Second,
		MaxCallDuration: 30 * time.Minute,
	}
}

// Manager tracks all live call sessions, builds the per-call pipeline for
// each new media stream, and sweeps away calls that exceed the duration
// ceiling
type Manager struct {
	logger *logrus.Logger
	config ManagerConfig
	deps   Dependencies

	mutex    sync.RWMutex
	sessions map[string]*Coordinator

	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewManager creates a session manager and starts its cleanup loop
func NewManager(logger *logrus.Logger, config ManagerConfig, deps Dependencies) *Manager {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultManagerConfig().CleanupInterval
	}
	if config.MaxCallDuration <= 0 {
		config.MaxCallDuration = DefaultManagerConfig().MaxCallDuration
	}

	m := &Manager{
		logger:        logger,
		config:        config,
		deps:          deps,
		sessions:      make(map[string]*Coordinator),
		cleanupTicker: time.NewTicker(config.CleanupInterval),
		stopChan:      make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// HandleConnection builds the pipeline for one media stream and runs the
// call to completion. It blocks for the lifetime of the call.
func (m *Manager) HandleConnection(ctx context.Context, conn media.WSConn) {
	id := uuid.New().String()

	transport := media.NewStreamTransport(conn, m.deps.TransportConfig, m.logger)
	detector := audio.NewDetector(m.deps.VADConfig)
	segmenter := stt.NewSegmenter(m.deps.SegmenterConfig, detector, m.deps.STTManager, m.logger)

	call := &tools.CallContext{CallID: id}
	orchestrator := agent.NewOrchestrator(m.logger, m.deps.AgentService, m.deps.Registry, call)
	streamer := tts.NewStreamer(m.deps.StreamerConfig, m.deps.Synthesizer, transport, m.logger)

	coordinator := NewCoordinator(id, m.logger, m.deps.CoordinatorConfig,
		transport, segmenter, orchestrator, streamer, call, m.deps.Sink)

	m.mutex.Lock()
	m.sessions[id] = coordinator
	m.mutex.Unlock()

	coordinator.Run(ctx)

	m.mutex.Lock()
	delete(m.sessions, id)
	m.mutex.Unlock()
}

// Get returns a live session coordinator by id
func (m *Manager) Get(id string) (*Coordinator, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	coordinator, ok := m.sessions[id]
	if !ok {
		return nil, errors.NewSessionNotFound(id)
	}
	return coordinator, nil
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// Shutdown tears down every live session and stops the cleanup loop
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.cleanupTicker.Stop()
	m.wg.Wait()

	m.mutex.RLock()
	live := make([]*Coordinator, 0, len(m.sessions))
	for _, coordinator := range m.sessions {
		live = append(live, coordinator)
	}
	m.mutex.RUnlock()

	for _, coordinator := range live {
		coordinator.Teardown(ReasonShutdown)
	}

	m.logger.WithField("sessions", len(live)).Info("Session manager shut down")
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopChan:
			return
		case <-m.cleanupTicker.C:
			m.sweepStaleSessions()
		}
	}
}

// sweepStaleSessions force-terminates calls past the duration ceiling
func (m *Manager) sweepStaleSessions() {
	m.mutex.RLock()
	stale := make([]*Coordinator, 0)
	for _, coordinator := range m.sessions {
		if coordinator.Session().Duration() > m.config.MaxCallDuration {
			stale = append(stale, coordinator)
		}
	}
	m.mutex.RUnlock()

	for _, coordinator := range stale {
		m.logger.WithFields(logrus.Fields{
			"session_id":  coordinator.Session().ID,
			"duration":    coordinator.Session().Duration(),
			"max_allowed": m.config.MaxCallDuration,
		}).Warn("Terminating session past duration ceiling")
		coordinator.Teardown(ReasonFatalError)
	}
}
