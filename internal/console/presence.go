package console

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/ws"
)

type view struct {
	visible bool
	granted bool
}

// Presence tracks the connected views: whether any of them is in the
// foreground and whether any allowed system notifications.
type Presence struct {
	onVisible func(bool)

	mu         sync.Mutex
	views      map[uuid.UUID]view
	anyVisible bool
}

// NewPresence calls onVisible whenever "some view is visible" flips.
func NewPresence(onVisible func(bool)) *Presence {
	if onVisible == nil {
		onVisible = func(bool) {}
	}
	return &Presence{onVisible: onVisible, views: make(map[uuid.UUID]view)}
}

// Join records a newly connected view. A view that just opened is visible.
func (p *Presence) Join(id uuid.UUID) {
	p.update(func() { p.views[id] = view{visible: true} })
}

func (p *Presence) Leave(id uuid.UUID) {
	p.update(func() { delete(p.views, id) })
}

type visibilityPayload struct {
	Visible bool `json:"visible"`
}

type permissionPayload struct {
	Granted bool `json:"granted"`
}

// Handle applies a message sent by view id.
func (p *Presence) Handle(id uuid.UUID, msg ws.Event) error {
	switch msg.Type {
	case ws.MessageVisibility:
		var v visibilityPayload
		if err := json.Unmarshal(msg.Payload, &v); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		p.update(func() {
			cur := p.views[id]
			cur.visible = v.Visible
			p.views[id] = cur
		})
	case ws.MessageNotificationPermission:
		var perm permissionPayload
		if err := json.Unmarshal(msg.Payload, &perm); err != nil {
			return fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		p.update(func() {
			cur := p.views[id]
			cur.granted = perm.Granted
			p.views[id] = cur
		})
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

func (p *Presence) update(fn func()) {
	p.mu.Lock()
	fn()
	visible := false
	for _, v := range p.views {
		if v.visible {
			visible = true
			break
		}
	}
	changed := visible != p.anyVisible
	p.anyVisible = visible
	p.mu.Unlock()

	if changed {
		p.onVisible(visible)
	}
}

func (p *Presence) AnyVisible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.anyVisible
}

func (p *Presence) NotificationsGranted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.views {
		if v.granted {
			return true
		}
	}
	return false
}

func (p *Presence) Views() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.views)
}
