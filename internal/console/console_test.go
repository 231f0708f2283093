package console_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/alert"
	"github.com/kiwari-pos/console/internal/console"
	"github.com/kiwari-pos/console/internal/orderapi"
	"github.com/kiwari-pos/console/internal/service"
	"github.com/kiwari-pos/console/internal/ws"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	session uuid.UUID
	all     bool
	event   ws.Event
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []sent
}

func (f *fakeBroadcaster) BroadcastAll(e ws.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sent{all: true, event: e})
}

func (f *fakeBroadcaster) BroadcastToSession(id uuid.UUID, e ws.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sent{session: id, event: e})
}

func (f *fakeBroadcaster) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.events)
	return f.events[len(f.events)-1]
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func TestSound_PlayPauseRewind(t *testing.T) {
	out := &fakeBroadcaster{}
	s := console.NewSound(out, quietLogger())

	require.NoError(t, s.Play(context.Background()))
	got := out.last(t)
	assert.True(t, got.all)
	assert.Equal(t, ws.EventAlertSound, got.event.Type)
	assert.JSONEq(t, `{"playing":true,"loop":true,"position":0}`, string(got.event.Payload))
	assert.True(t, s.State().Playing)

	s.Pause()
	assert.False(t, s.State().Playing)

	s.Rewind()
	st := s.State()
	assert.False(t, st.Playing)
	assert.Zero(t, st.Position)
	assert.JSONEq(t, `{"playing":false,"loop":true,"position":0}`, string(out.last(t).event.Payload))
}

func TestSound_PauseWhenSilent(t *testing.T) {
	out := &fakeBroadcaster{}
	s := console.NewSound(out, quietLogger())

	s.Pause()
	s.Rewind()
	assert.False(t, s.State().Playing)
	assert.Zero(t, s.State().Position)
	assert.Len(t, out.events, 2)
}

func TestBannerAndReloader(t *testing.T) {
	out := &fakeBroadcaster{}
	banner := console.NewBanner(out, quietLogger())
	reloader := console.NewReloader(out, quietLogger())

	a := alert.Alert{Order: orderapi.Order{ID: 42}}
	require.NoError(t, banner.Show(context.Background(), a))
	got := out.last(t)
	assert.Equal(t, ws.EventNewOrder, got.event.Type)

	var decoded alert.Alert
	require.NoError(t, json.Unmarshal(got.event.Payload, &decoded))
	assert.EqualValues(t, 42, decoded.OrderID())

	banner.Hide()
	assert.Equal(t, ws.EventAlertCleared, out.last(t).event.Type)

	reloader.Reload()
	assert.Equal(t, ws.EventReload, out.last(t).event.Type)
	assert.True(t, out.last(t).all)
}

func TestSessionFeedbackTargetsSession(t *testing.T) {
	out := &fakeBroadcaster{}
	sid := uuid.New()
	fb := console.NewSessionFeedback(out, sid, quietLogger())

	fb.Notify(service.Toast{Level: service.ToastError, Message: "Product is already in the order"})

	got := out.last(t)
	assert.False(t, got.all)
	assert.Equal(t, sid, got.session)
	assert.Equal(t, ws.EventToast, got.event.Type)
	assert.JSONEq(t, `{"level":"error","message":"Product is already in the order"}`, string(got.event.Payload))
}

func TestPresence_Visibility(t *testing.T) {
	var changes []bool
	p := console.NewPresence(func(v bool) { changes = append(changes, v) })

	tab1, tab2 := uuid.New(), uuid.New()
	p.Join(tab1)
	p.Join(tab2)
	assert.True(t, p.AnyVisible())

	hide := ws.Event{Type: ws.MessageVisibility, Payload: json.RawMessage(`{"visible":false}`)}
	require.NoError(t, p.Handle(tab1, hide))
	assert.True(t, p.AnyVisible(), "tab2 still visible")

	require.NoError(t, p.Handle(tab2, hide))
	assert.False(t, p.AnyVisible())

	show := ws.Event{Type: ws.MessageVisibility, Payload: json.RawMessage(`{"visible":true}`)}
	require.NoError(t, p.Handle(tab2, show))

	p.Leave(tab2)
	assert.Equal(t, []bool{true, false, true, false}, changes)
	assert.Equal(t, 1, p.Views())
}

func TestPresence_NotificationPermission(t *testing.T) {
	p := console.NewPresence(nil)
	out := &fakeBroadcaster{}
	notifier := console.NewNotifier(out, p, quietLogger())

	tab := uuid.New()
	p.Join(tab)
	assert.False(t, notifier.Permission())

	grant := ws.Event{Type: ws.MessageNotificationPermission, Payload: json.RawMessage(`{"granted":true}`)}
	require.NoError(t, p.Handle(tab, grant))
	assert.True(t, notifier.Permission())

	note := alert.Notification{OrderID: 7, Title: "New order #7", Body: "Ana: $10.00"}
	require.NoError(t, notifier.Show(context.Background(), note))
	assert.Equal(t, ws.EventSystemNotification, out.last(t).event.Type)

	p.Leave(tab)
	assert.False(t, notifier.Permission())
}

func TestPresence_RejectsUnknownAndMalformed(t *testing.T) {
	p := console.NewPresence(nil)
	id := uuid.New()

	assert.Error(t, p.Handle(id, ws.Event{Type: "dance"}))
	assert.Error(t, p.Handle(id, ws.Event{Type: ws.MessageVisibility, Payload: json.RawMessage(`"yes"`)}))
}

func TestLogChannels(t *testing.T) {
	logger, hook := test.NewNullLogger()
	ch := console.NewLogChannels(logger)

	a := alert.Alert{Order: orderapi.Order{ID: 9, CustomerName: "Ana", Address: "Retiro en local"}}
	require.NoError(t, ch.Banner().Show(context.Background(), a))
	require.NoError(t, ch.Show(context.Background(), alert.NotificationFor(a)))
	require.NoError(t, ch.Play(context.Background()))

	entries := hook.AllEntries()
	require.Len(t, entries, 3)
	assert.Equal(t, "new order", entries[0].Message)
	assert.Equal(t, true, entries[0].Data["pickup"])
	assert.Equal(t, "New order #9: Ana: $0.00 (pickup)", entries[1].Message)
}
