// Package console adapts the alert channels and session feedback to the
// console views connected over WebSocket.
package console

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/alert"
	"github.com/kiwari-pos/console/internal/service"
	"github.com/kiwari-pos/console/internal/ws"
	"github.com/sirupsen/logrus"
)

// Broadcaster delivers events to connected views. Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastAll(event ws.Event)
	BroadcastToSession(sessionID uuid.UUID, event ws.Event)
}

func emit(out Broadcaster, log logrus.FieldLogger, eventType string, payload any) {
	event, err := ws.NewEvent(eventType, payload)
	if err != nil {
		log.WithError(err).Warn("drop console event")
		return
	}
	out.BroadcastAll(event)
}

// SoundState is what every view's audio element should be doing.
type SoundState struct {
	Playing  bool    `json:"playing"`
	Loop     bool    `json:"loop"`
	Position float64 `json:"position"`
}

// Sound drives the looping alert cue in every connected view.
type Sound struct {
	out Broadcaster
	log logrus.FieldLogger

	mu       sync.Mutex
	state    SoundState
	startsAt time.Time
}

func NewSound(out Broadcaster, log logrus.FieldLogger) *Sound {
	return &Sound{out: out, log: log.WithField("component", "console_sound")}
}

func (s *Sound) Play(context.Context) error {
	s.mu.Lock()
	if s.state.Playing {
		s.mu.Unlock()
		return nil
	}
	s.state.Playing = true
	s.state.Loop = true
	s.startsAt = time.Now().Add(-time.Duration(s.state.Position * float64(time.Second)))
	st := s.state
	s.mu.Unlock()

	emit(s.out, s.log, ws.EventAlertSound, st)
	return nil
}

func (s *Sound) Pause() {
	s.mu.Lock()
	if s.state.Playing {
		s.state.Position = time.Since(s.startsAt).Seconds()
	}
	s.state.Playing = false
	st := s.state
	s.mu.Unlock()

	emit(s.out, s.log, ws.EventAlertSound, st)
}

func (s *Sound) Rewind() {
	s.mu.Lock()
	s.state.Position = 0
	s.startsAt = time.Now()
	st := s.state
	s.mu.Unlock()

	emit(s.out, s.log, ws.EventAlertSound, st)
}

// State reports the cue as a view joining now should render it.
func (s *Sound) State() SoundState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.Playing {
		st.Position = time.Since(s.startsAt).Seconds()
	}
	return st
}

// Notifier asks views to raise an OS notification. Permission is granted
// when at least one connected view reported it.
type Notifier struct {
	out      Broadcaster
	presence *Presence
	log      logrus.FieldLogger
}

func NewNotifier(out Broadcaster, presence *Presence, log logrus.FieldLogger) *Notifier {
	return &Notifier{out: out, presence: presence, log: log.WithField("component", "console_notifier")}
}

func (n *Notifier) Permission() bool { return n.presence.NotificationsGranted() }

func (n *Notifier) Show(_ context.Context, note alert.Notification) error {
	emit(n.out, n.log, ws.EventSystemNotification, note)
	return nil
}

// Banner shows the new-order banner until dismissed.
type Banner struct {
	out Broadcaster
	log logrus.FieldLogger
}

func NewBanner(out Broadcaster, log logrus.FieldLogger) *Banner {
	return &Banner{out: out, log: log.WithField("component", "console_banner")}
}

func (b *Banner) Show(_ context.Context, a alert.Alert) error {
	emit(b.out, b.log, ws.EventNewOrder, a)
	return nil
}

func (b *Banner) Hide() {
	emit(b.out, b.log, ws.EventAlertCleared, nil)
}

// Reloader tells every view to refetch whatever order lists it shows.
type Reloader struct {
	out Broadcaster
	log logrus.FieldLogger
}

func NewReloader(out Broadcaster, log logrus.FieldLogger) *Reloader {
	return &Reloader{out: out, log: log.WithField("component", "console_reloader")}
}

func (r *Reloader) Reload() {
	r.log.Debug("broadcast reload")
	emit(r.out, r.log, ws.EventReload, nil)
}

// SessionFeedback sends an edit session's toasts to the views following it.
type SessionFeedback struct {
	out       Broadcaster
	sessionID uuid.UUID
	log       logrus.FieldLogger
}

func NewSessionFeedback(out Broadcaster, sessionID uuid.UUID, log logrus.FieldLogger) *SessionFeedback {
	return &SessionFeedback{out: out, sessionID: sessionID, log: log}
}

func (f *SessionFeedback) Notify(t service.Toast) {
	event, err := ws.NewEvent(ws.EventToast, t)
	if err != nil {
		f.log.WithError(err).Warn("drop toast")
		return
	}
	f.out.BroadcastToSession(f.sessionID, event)
}
