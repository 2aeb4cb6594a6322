package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/internal/conversation"
	"github.com/verbly-ai/verbly/internal/playback"
	"github.com/verbly-ai/verbly/internal/store"
	"github.com/verbly-ai/verbly/pkg/provider/device"
)

// errUnknownSession is returned for session IDs the manager does not hold.
var errUnknownSession = errors.New("unknown session")

// ControllerFactory builds a conversation controller wired to one client's
// capture device, playback sink, and on-device synthesizer. The server owns
// the bridges; the factory (provided by main) owns provider wiring.
type ControllerFactory func(dev capture.Device, sink playback.Sink, speaker device.Synthesizer, notify conversation.Notifier) *conversation.Controller

// liveSession groups one controller with its client bridges.
type liveSession struct {
	id   string
	ctrl *conversation.Controller
	hub  *hub
	dev  *httpDevice
}

// sessionManager tracks live sessions and persists their snapshots after
// every appended turn.
type sessionManager struct {
	factory ControllerFactory
	store   store.SnapshotStore
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

func newSessionManager(factory ControllerFactory, snaps store.SnapshotStore, log *slog.Logger) *sessionManager {
	return &sessionManager{
		factory:  factory,
		store:    snaps,
		log:      log,
		sessions: make(map[string]*liveSession),
	}
}

// create builds a live session. The controller is not yet started; the
// caller starts or restores it, then calls register.
func (m *sessionManager) create() *liveSession {
	h := newHub()
	dev := newHTTPDevice(h)
	ls := &liveSession{hub: h, dev: dev}

	notify := func(ev conversation.Event) {
		h.broadcast(ev)
		if ev.Type == conversation.EventTurn || ev.Type == conversation.EventProgress {
			m.persist(ls)
		}
	}
	ls.ctrl = m.factory(dev, &wsSink{hub: h}, &wsSpeaker{hub: h}, notify)
	return ls
}

// register indexes the session under its controller's session ID.
func (m *sessionManager) register(ls *liveSession) {
	ls.id = ls.ctrl.SessionID()
	m.mu.Lock()
	m.sessions[ls.id] = ls
	m.mu.Unlock()
}

func (m *sessionManager) get(id string) (*liveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.sessions[id]
	if !ok {
		return nil, errUnknownSession
	}
	return ls, nil
}

// remove closes the session's controller and drops it from the index.
func (m *sessionManager) remove(id string) {
	m.mu.Lock()
	ls, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		ls.ctrl.Close()
	}
}

// persist saves the session snapshot in the background. Persistence is
// best-effort; a store failure never disturbs the conversation.
func (m *sessionManager) persist(ls *liveSession) {
	snap, err := ls.ctrl.Snapshot()
	if err != nil {
		return
	}
	go func() {
		if err := m.store.Save(context.Background(), snap); err != nil {
			m.log.Warn("persisting session snapshot", "session_id", snap.ID, "error", err)
		}
	}()
}
