// Package sessiontest provides in-memory session.Transport and session.Room
// implementations for tests of code built on the connector.
package sessiontest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcdev12/plaza/go/internal/realtime/bus"
	"github.com/mcdev12/plaza/go/internal/realtime/session"
	"github.com/mcdev12/plaza/go/internal/realtime/statesync"
)

// Transport is a scripted session.Transport.
type Transport struct {
	dispatch bus.Dispatcher

	mu      sync.Mutex
	joins   int
	gate    chan struct{}
	results []joinResult
	rooms   []*Room
	opts    []session.JoinOptions
}

type joinResult struct {
	room *Room
	err  error
}

// NewTransport creates a transport whose rooms post leave callbacks to dispatch.
func NewTransport(dispatch bus.Dispatcher) *Transport {
	return &Transport{dispatch: dispatch}
}

// FailNext makes the next Join return err.
func (t *Transport) FailNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, joinResult{err: err})
}

// NextRoom makes the next Join return room.
func (t *Transport) NextRoom(room *Room) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, joinResult{room: room})
}

// Block makes Join wait until the returned release function is called.
func (t *Transport) Block() (release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gate := make(chan struct{})
	t.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Joins returns how many times Join was called.
func (t *Transport) Joins() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joins
}

// JoinOptions returns the options passed to every Join call.
func (t *Transport) JoinOptions() []session.JoinOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]session.JoinOptions, len(t.opts))
	copy(out, t.opts)
	return out
}

// LastRoom returns the most recently joined room, or nil.
func (t *Transport) LastRoom() *Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rooms) == 0 {
		return nil
	}
	return t.rooms[len(t.rooms)-1]
}

func (t *Transport) Join(ctx context.Context, endpoint string, opts session.JoinOptions) (session.Room, error) {
	t.mu.Lock()
	t.joins++
	n := t.joins
	t.opts = append(t.opts, opts)
	gate := t.gate
	var res joinResult
	if len(t.results) > 0 {
		res = t.results[0]
		t.results = t.results[1:]
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if res.err != nil {
		return nil, res.err
	}
	room := res.room
	if room == nil {
		room = NewRoom(fmt.Sprintf("session-%d", n), t.dispatch)
	}

	t.mu.Lock()
	t.rooms = append(t.rooms, room)
	t.mu.Unlock()
	return room, nil
}

// Message is one recorded outbound message.
type Message struct {
	Name    string
	Payload json.RawMessage
}

// Room is an in-memory session.Room. Its State collections can be mutated
// directly to simulate server patches.
type Room struct {
	State *statesync.RoomState

	id        string
	sessionID string
	dispatch  bus.Dispatcher
	handlers  map[string]*bus.Signal[json.RawMessage]
	leaveFns  []func(session.LeaveInfo)
	errorFns  []func(session.RoomErrorEvent)

	mu         sync.Mutex
	sent       []Message
	leaveCalls int
	left       bool

	// SendErr, when set, is returned by Send.
	SendErr error
}

// NewRoom creates a room with empty state.
func NewRoom(sessionID string, dispatch bus.Dispatcher) *Room {
	return &Room{
		State:     statesync.NewRoomState(),
		id:        "room-" + sessionID,
		sessionID: sessionID,
		dispatch:  dispatch,
		handlers:  make(map[string]*bus.Signal[json.RawMessage]),
	}
}

func (r *Room) ID() string        { return r.id }
func (r *Room) SessionID() string { return r.sessionID }

func (r *Room) Players() statesync.Collection[string, statesync.Player] {
	return r.State.Players
}

func (r *Room) Stations() statesync.Collection[string, statesync.Station] {
	return r.State.Stations
}

func (r *Room) Send(name string, payload any) error {
	if r.SendErr != nil {
		return r.SendErr
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Message{Name: name, Payload: data})
	return nil
}

// Sent returns the recorded outbound messages.
func (r *Room) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *Room) OnMessage(name string, fn func(json.RawMessage)) func() {
	sig, ok := r.handlers[name]
	if !ok {
		sig = &bus.Signal[json.RawMessage]{}
		r.handlers[name] = sig
	}
	return sig.Subscribe(fn)
}

// Handlers returns how many handlers are bound to name.
func (r *Room) Handlers(name string) int {
	sig, ok := r.handlers[name]
	if !ok {
		return 0
	}
	return sig.Len()
}

// Deliver simulates an inbound message. Call it from the dispatcher goroutine.
func (r *Room) Deliver(name string, payload any) {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	case string:
		data = json.RawMessage(p)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		data = b
	}
	if sig, ok := r.handlers[name]; ok {
		sig.Emit(data)
	}
}

func (r *Room) OnLeave(fn func(session.LeaveInfo)) {
	r.leaveFns = append(r.leaveFns, fn)
}

func (r *Room) OnError(fn func(session.RoomErrorEvent)) {
	r.errorFns = append(r.errorFns, fn)
}

// Leave records the call and posts a consented leave to the dispatcher, the
// way a real server acknowledges it.
func (r *Room) Leave(consented bool) error {
	r.mu.Lock()
	r.leaveCalls++
	r.mu.Unlock()

	code := session.CodeAbnormal
	if consented {
		code = session.CodeConsented
	}
	r.dispatch.Post(func() { r.Drop(code, "client left") })
	return nil
}

// LeaveCalls returns how many times Leave was called.
func (r *Room) LeaveCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveCalls
}

// Drop ends the connection and fires leave callbacks once. Call it from the
// dispatcher goroutine.
func (r *Room) Drop(code int, reason string) {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return
	}
	r.left = true
	r.mu.Unlock()

	for _, fn := range r.leaveFns {
		fn(session.LeaveInfo{Code: code, Reason: reason})
	}
}

// Fail fires room error callbacks.
func (r *Room) Fail(code int, message string) {
	for _, fn := range r.errorFns {
		fn(session.RoomErrorEvent{Code: code, Message: message})
	}
}
