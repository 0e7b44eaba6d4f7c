package server

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/hallchat/internal/bijection"
	"github.com/Tyrowin/hallchat/internal/chat"
)

var (
	// ErrBanned is returned when a banned address tries to register.
	ErrBanned = errors.New("address is banned")
	// ErrHubStopped is returned when registering with a hub that shut down.
	ErrHubStopped = errors.New("hub stopped")
	// ErrStopRequested is returned by Run after an admin asked for a stop.
	ErrStopRequested = errors.New("stop requested")
)

const msgTimeout = "Connection timed out."

// scheduled is a pending replay.
type scheduled struct {
	id uuid.UUID
	chat.Schedule
}

// Hub owns the chat state and every connection. All state transitions run
// under mu; writes to connections happen after mu is released.
type Hub struct {
	cfg    Config
	creds  chat.Credentials
	logger *slog.Logger

	mu            sync.Mutex
	state         chat.State
	clients       bijection.Bijection[*Client, chat.ConnID]
	nextID        chat.ConnID
	schedule      []scheduled
	lastSeen      map[chat.ConnID]time.Time
	stopped       bool
	stopRequested bool
	observers     []Observer

	now    func() time.Time
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub whose state holds the console user. cfg is expected
// to be normalized.
func NewHub(cfg Config, registry *chat.Registry, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	state := chat.NewState(registry).
		RegisterUser(chat.ConsoleUsername, chat.ConsoleConn, chat.LevelAdmin).
		ClearEffects()
	return &Hub{
		cfg:      cfg,
		creds:    cfg.Credentials,
		logger:   logger.With(slog.String("component", "hub")),
		state:    state,
		nextID:   chat.ConsoleConn + 1,
		lastSeen: make(map[chat.ConnID]time.Time),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// SetCommands replaces the command registry.
func (h *Hub) SetCommands(reg *chat.Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = h.state.WithRegistry(reg)
	h.logger.Info("command registry updated", slog.Int("commands", len(reg.Names())))
}

// ConnectionCount returns the number of attached clients, console included.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients.Len()
}

// Register attaches a new connection as an anonymous user and starts its
// pumps.
func (h *Hub) Register(t Transport) (*Client, error) {
	return h.register(t, newRateLimiter(h.cfg.RateLimit.Burst, h.cfg.RateLimit.RefillInterval))
}

func (h *Hub) register(t Transport, limiter *rateLimiter) (*Client, error) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil, ErrHubStopped
	}
	if ip := t.RemoteIP(); ip != "" && h.state.IsBanned(ip) {
		h.mu.Unlock()
		return nil, ErrBanned
	}
	id := h.nextID
	h.nextID++
	c := newClient(h, t, id, limiter)
	h.clients = h.clients.Plus(c, id)
	h.lastSeen[id] = h.now()
	h.state = h.state.RegisterConn(id)
	var out outbox
	h.drain(&out)
	count := h.clients.Len()
	h.mu.Unlock()

	h.logger.Info("client registered", slog.String("addr", c.addr), slog.Int64("conn", int64(id)), slog.Int("clients", count))
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	h.deliver(&out)
	return c, nil
}

// AttachConsole binds t to the console user. A previously attached console
// is detached.
func (h *Hub) AttachConsole(t Transport) *Client {
	c := newClient(h, t, chat.ConsoleConn, nil)
	h.mu.Lock()
	old, hadOld := h.clients.Inverse(chat.ConsoleConn)
	h.clients = h.clients.Plus(c, chat.ConsoleConn)
	h.mu.Unlock()
	if hadOld {
		old.close()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	// Reads from stdin can not be interrupted, so the reader is not waited for.
	go c.readPump()
	return c
}

// Receive handles a line read from c. The password of an admin login is
// checked before the hub is locked.
func (h *Hub) Receive(c *Client, line string) {
	login := h.verifyLogin(c, line)

	h.mu.Lock()
	id, ok := h.clients.Direct(c)
	if !ok {
		h.mu.Unlock()
		return
	}
	now := h.now()
	h.lastSeen[id] = now
	if line == chat.Heartbeat {
		h.mu.Unlock()
		return
	}
	h.state = h.state.HandleLogin(id, line, now, login)
	var out outbox
	h.drain(&out)
	h.mu.Unlock()
	h.deliver(&out)
}

// verifyLogin checks the admin login carried by line. After
// maxFailedLogins failures the client's logins are refused without a
// check. Called from c's read loop only.
func (h *Hub) verifyLogin(c *Client, line string) chat.Login {
	name, password, ok := chat.ParseLogin(line)
	if !ok {
		return chat.Login{}
	}
	if c.failedLogins >= maxFailedLogins {
		h.logger.Warn("admin login refused", slog.String("addr", c.addr), slog.Int("failures", c.failedLogins))
		return chat.Login{Name: name, Password: password}
	}
	login, _ := h.creds.Verify(line)
	if !login.Valid {
		c.failedLogins++
		h.logger.Warn("admin login failed", slog.String("addr", c.addr), slog.String("account", name))
		return login
	}
	c.failedLogins = 0
	return login
}

// Unregister detaches c and removes its user. Detaching the console keeps
// the console user.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	id, ok := h.clients.Direct(c)
	if !ok {
		h.mu.Unlock()
		c.close()
		return
	}
	h.clients = h.clients.RemoveByDomain(c)
	delete(h.lastSeen, id)
	var out outbox
	if id != chat.ConsoleConn {
		if u, ok := h.state.UserOf(id); ok {
			h.state = h.state.RemoveUser(u.Username)
		}
		h.drain(&out)
	}
	count := h.clients.Len()
	h.mu.Unlock()

	c.close()
	h.deliver(&out)
	h.logger.Info("client unregistered", slog.String("addr", c.addr), slog.Int64("conn", int64(id)), slog.Int("clients", count))
}

// tick replays every scheduled entry due at now, in fire time order.
func (h *Hub) tick(now time.Time) {
	h.mu.Lock()
	var due, pending []scheduled
	for _, s := range h.schedule {
		if s.At.After(now) {
			pending = append(pending, s)
		} else {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		h.mu.Unlock()
		return
	}
	h.schedule = pending
	slices.SortStableFunc(due, func(a, b scheduled) int { return a.At.Compare(b.At) })
	for _, s := range due {
		line := chat.RoomPrefix + s.Room + " " + s.Action
		h.logger.Debug("replaying scheduled action", slog.String("id", s.id.String()), slog.String("user", s.User.Username))
		h.state = h.state.ReplayAs(s.User, line, now)
	}
	var out outbox
	h.drain(&out)
	h.mu.Unlock()
	h.deliver(&out)
}

// sweep drops the connections silent for longer than the ping timeout and
// removes users left without a connection. The console never times out.
func (h *Hub) sweep(now time.Time) {
	h.mu.Lock()
	var out outbox
	for _, p := range h.clients.Pairs() {
		c, id := p.Domain, p.Codomain
		if id == chat.ConsoleConn || now.Sub(h.lastSeen[id]) <= h.cfg.PingTimeout {
			continue
		}
		out.add(c, serviceLines(chat.ServicePrefix, msgTimeout)...)
		out.closing = append(out.closing, c)
		h.clients = h.clients.RemoveByDomain(c)
		delete(h.lastSeen, id)
		if u, ok := h.state.UserOf(id); ok {
			for _, r := range h.state.RoomsOf(u.Username) {
				h.state = h.state.Emit(chat.ServiceToRoom{Room: r.Name, Text: "User " + u.Username + " timeout."})
			}
			h.logger.Info("client timed out", slog.String("user", u.Username), slog.String("addr", c.addr))
		}
	}
	for _, u := range h.state.Users() {
		if u.Username == chat.ConsoleUsername {
			continue
		}
		if id, ok := h.state.ConnOf(u.Username); !ok || !h.clients.CodomainContains(id) {
			h.state = h.state.RemoveUser(u.Username)
		}
	}
	h.drain(&out)
	h.mu.Unlock()
	h.deliver(&out)
}

// Run drives the scheduler and the liveness sweep until ctx is done or a
// stop is requested.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	scheduler := time.NewTicker(h.cfg.SchedulerInterval)
	defer scheduler.Stop()
	sweeper := time.NewTicker(h.cfg.SweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdownClients()
			return nil
		case <-h.ctx.Done():
			h.shutdownClients()
			h.mu.Lock()
			stop := h.stopRequested
			h.mu.Unlock()
			if stop {
				return ErrStopRequested
			}
			return nil
		case <-scheduler.C:
			h.tick(h.now())
		case <-sweeper.C:
			h.sweep(h.now())
		}
	}
}

// shutdownClients closes every connection and discards pending schedules.
func (h *Hub) shutdownClients() {
	h.mu.Lock()
	h.stopped = true
	discarded := len(h.schedule)
	h.schedule = nil
	clients := h.clients.Domain()
	h.clients = bijection.Bijection[*Client, chat.ConnID]{}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.logger.Info("closed client connections", slog.Int("clients", len(clients)), slog.Int("discarded_schedules", discarded))
}

// Shutdown stops the hub and waits for the client goroutines to finish.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()

	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-deadline:
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// outbox collects the lines to write once mu is released.
type outbox struct {
	order     []*Client
	lines     map[*Client][]string
	closing   []*Client
	observers []Observer
	events    []observed
}

func (o *outbox) add(c *Client, lines ...string) {
	if o.lines == nil {
		o.lines = make(map[*Client][]string)
	}
	if _, ok := o.lines[c]; !ok {
		o.order = append(o.order, c)
	}
	o.lines[c] = append(o.lines[c], lines...)
}

func serviceLines(prefix, text string) []string {
	parts := strings.Split(strings.Trim(text, "\n"), "\n")
	for i, p := range parts {
		parts[i] = prefix + " " + p
	}
	return parts
}

func (h *Hub) toConn(out *outbox, id chat.ConnID, lines ...string) {
	if c, ok := h.clients.Inverse(id); ok {
		out.add(c, lines...)
	}
}

// drain turns the pending effects into connection writes and table updates.
// It must be called with mu held.
func (h *Hub) drain(out *outbox) {
	effects := h.state.Effects()
	h.state = h.state.ClearEffects()
	out.observe(h.observers, h.state, effects)

	for _, e := range effects {
		switch e := e.(type) {
		case chat.ServiceToConn:
			prefix := chat.ServicePrefix
			if e.Parsable {
				prefix = chat.ParsablePrefix
			}
			h.toConn(out, e.Conn, serviceLines(prefix, e.Text)...)
		case chat.ServiceToRoom:
			text := e.Text
			if e.Room != chat.DefaultRoom {
				text = chat.RoomPrefix + e.Room + " " + text
			}
			for _, id := range h.state.ConnsInRoom(e.Room) {
				h.toConn(out, id, serviceLines(chat.ServicePrefix, text)...)
			}
		case chat.ServiceToAll:
			for _, c := range h.clients.Domain() {
				out.add(c, serviceLines(chat.ServicePrefix, e.Text)...)
			}
		case chat.Deliver:
			room, ok := h.state.Room(e.Entry.Room)
			if !ok {
				continue
			}
			line := e.Entry.Formatted()
			for _, u := range room.Members() {
				if !room.CanRead(u.Username) {
					continue
				}
				if id, ok := h.state.ConnOf(u.Username); ok {
					h.toConn(out, id, line)
				}
			}
		case chat.UserJoined:
			h.logger.Info("user joined", slog.String("user", e.Username))
		case chat.UserRenamed:
			h.logger.Info("user renamed", slog.String("from", e.From), slog.String("to", e.To))
		case chat.UserLeft:
			h.logger.Info("user left", slog.String("user", e.Username), slog.Bool("known", e.Known))
		case chat.DropConn:
			if e.Conn == chat.ConsoleConn {
				continue
			}
			if c, ok := h.clients.Inverse(e.Conn); ok {
				h.clients = h.clients.RemoveByCodomain(e.Conn)
				delete(h.lastSeen, e.Conn)
				out.closing = append(out.closing, c)
			}
		case chat.BanConn:
			c, ok := h.clients.Inverse(e.Conn)
			if !ok || c.transport.RemoteIP() == "" {
				continue
			}
			h.state = h.state.AddBannedIP(c.transport.RemoteIP())
			h.logger.Warn("address banned", slog.String("ip", c.transport.RemoteIP()))
		case chat.LiftBan:
			h.logger.Info("ban lifted", slog.String("ip", e.IP))
		case chat.Schedule:
			s := scheduled{id: uuid.New(), Schedule: e}
			h.schedule = append(h.schedule, s)
			h.logger.Debug("action scheduled", slog.String("id", s.id.String()),
				slog.String("user", e.User.Username), slog.Time("at", e.At))
		case chat.Ping:
			h.toConn(out, e.Conn, chat.Heartbeat)
		case chat.PingUser:
			if id, ok := h.state.ConnOf(e.To.Username); ok {
				h.toConn(out, id, chat.Heartbeat+" from "+e.From.Username)
			}
		case chat.Stop:
			h.logger.Warn("stop requested")
			h.stopRequested = true
			h.cancel()
		}
	}
}

// deliver writes the collected lines, then closes the connections asked
// for. A client whose queue is full is dropped.
func (h *Hub) deliver(out *outbox) {
	for _, c := range out.order {
		if !c.enqueue(out.lines[c]) {
			h.logger.Warn("client removed due to full send buffer", slog.String("addr", c.addr))
			h.Unregister(c)
		}
	}
	for _, c := range out.closing {
		c.close()
	}
	out.notify()
}
