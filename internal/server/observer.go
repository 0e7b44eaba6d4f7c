package server

import (
	"log/slog"

	"github.com/Tyrowin/hallchat/internal/chat"
)

// Observer is told about the effects of every transition, together with
// the state they left behind. Observe is called outside the hub lock, in
// effect order, and must not block.
type Observer interface {
	Observe(s chat.State, e chat.Effect)
}

type observed struct {
	state  chat.State
	effect chat.Effect
}

// Observe adds o to the observers of h.
func (h *Hub) Observe(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// AttachBot registers an in-process client. It is a regular user except
// that its lines are not rate limited.
func (h *Hub) AttachBot(t Transport) (*Client, error) {
	c, err := h.register(t, nil)
	if err != nil {
		return nil, err
	}
	h.logger.Info("bot attached", slog.Int64("conn", int64(c.id)))
	return c, nil
}

func (o *outbox) observe(observers []Observer, s chat.State, effects []chat.Effect) {
	if len(observers) == 0 {
		return
	}
	o.observers = observers
	for _, e := range effects {
		o.events = append(o.events, observed{state: s, effect: e})
	}
}

func (o *outbox) notify() {
	for _, obs := range o.observers {
		for _, ev := range o.events {
			obs.Observe(ev.state, ev.effect)
		}
	}
}
