package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/mafia-session/internal/engine"
	"github.com/DoyleJ11/mafia-session/internal/protocol"
	"github.com/DoyleJ11/mafia-session/internal/roster"
	"github.com/DoyleJ11/mafia-session/internal/store"
	"go.uber.org/zap"
)

var ErrRosterNotFull = errors.New("active roster is not full")
var ErrGameInProgress = errors.New("roster is locked once the game starts")
var ErrLobbyClosed = errors.New("lobby closed")

type Msg interface{ isLobbyMsg() }

// Join admits a participant. Outbox receives every snapshot addressed to it
// and is closed by the lobby when the participant is dropped. Reply, when
// set, carries the admission result.
type Join struct {
	ClientID string
	Name     string
	Outbox   chan protocol.Message
	Reply    chan error
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type StartGame struct{ Reply chan error }

func (StartGame) isLobbyMsg() {}

type AdvancePhase struct{ Reply chan error }

func (AdvancePhase) isLobbyMsg() {}

type MoveToActive struct {
	ClientID string
	Reply    chan error
}

func (MoveToActive) isLobbyMsg() {}

type MoveToWaiting struct {
	ClientID string
	Reply    chan error
}

func (MoveToWaiting) isLobbyMsg() {}

type Eliminate struct {
	ClientID string
	Reply    chan error
}

func (Eliminate) isLobbyMsg() {}

// Shutdown sends hostLeft to every participant and stops the lobby.
type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// View is the host's read model of the session.
type View struct {
	Code       string
	Version    int
	NumClients int
	Active     []roster.Participant
	Waiting    []roster.Participant
	State      engine.State
	Closed     bool
}

type Lobby struct {
	inbox   chan Msg
	code    string
	roster  *roster.Roster
	state   engine.State
	version int
	clients map[string]chan protocol.Message
	rng     engine.Source
	views   *store.Store[View]
	log     *zap.Logger
	dirty   bool
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*Lobby)

func WithCapacity(n int) Option {
	return func(l *Lobby) { l.roster = roster.New(n, roster.WithNotify(l.rosterChanged)) }
}

// WithSource sets the randomness used for seating and roles.
func WithSource(src engine.Source) Option {
	return func(l *Lobby) { l.rng = src }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Lobby) {
		if log != nil {
			l.log = log
		}
	}
}

// WithCode records the discoverable code the lobby is served under.
func WithCode(code string) Option {
	return func(l *Lobby) { l.code = code }
}

func NewLobby(parent context.Context, opts ...Option) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		inbox:   make(chan Msg, 64), // Small buffer
		state:   engine.NewEmptyState(),
		version: 0,
		clients: make(map[string]chan protocol.Message),
		log:     zap.NewNop(),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	l.roster = roster.New(roster.DefaultCapacity, roster.WithNotify(l.rosterChanged))
	for _, opt := range opts {
		opt(l)
	}
	if l.rng == nil {
		l.rng = engine.NewSource()
	}
	l.log = l.log.Named("lobby").With(zap.String("code", l.code))
	l.views = store.New(l.view())

	go l.loop()
	return l
}

func (l *Lobby) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			if stop := l.handle(m); stop {
				return
			}
			if l.dirty {
				l.publish()
				l.dirty = false
			}
		}
	}
}

func (l *Lobby) handle(m Msg) bool {
	switch msg := m.(type) {
	case Join:
		err := l.join(msg)
		if msg.Reply != nil {
			msg.Reply <- err
		}

	case Leave:
		l.leave(msg.ClientID)

	case StartGame:
		msg.Reply <- l.startGame()

	case AdvancePhase:
		msg.Reply <- l.apply(engine.Command{Type: engine.CmdAdvancePhase})

	case MoveToActive:
		if l.state.Phase != engine.PhaseWaiting {
			msg.Reply <- ErrGameInProgress
			break
		}
		msg.Reply <- l.roster.MoveToActive(msg.ClientID)

	case MoveToWaiting:
		if l.state.Phase != engine.PhaseWaiting {
			msg.Reply <- ErrGameInProgress
			break
		}
		msg.Reply <- l.roster.MoveToWaiting(msg.ClientID)

	case Eliminate:
		msg.Reply <- l.apply(engine.Command{Type: engine.CmdEliminate, TargetID: msg.ClientID})

	case GetState:
		// reflect internal state without data races
		msg.Reply <- l.view()

	case Shutdown:
		l.shutdown()
		return true
	}
	return false
}

func (l *Lobby) join(msg Join) error {
	if _, ok := l.clients[msg.ClientID]; ok {
		l.log.Warn("duplicate join dropped", zap.String("participant", msg.ClientID))
		close(msg.Outbox)
		return roster.ErrDuplicateParticipant
	}

	p, err := l.roster.Admit(msg.ClientID, msg.Name)
	if err != nil {
		l.log.Warn("join rejected", zap.String("participant", msg.ClientID), zap.Error(err))
		close(msg.Outbox)
		return err
	}
	l.clients[p.ID] = msg.Outbox
	l.log.Info("participant admitted",
		zap.String("participant", p.ID),
		zap.String("name", p.Name),
		zap.String("status", string(p.Status)))
	return nil
}

func (l *Lobby) leave(id string) {
	l.dropClient(id)

	p, ok := l.roster.Remove(id)
	if !ok {
		return
	}
	l.log.Info("participant left", zap.String("participant", p.ID))

	if seat, seated := l.state.SeatOf(id); seated && seat.Alive && l.state.Phase.InProgress() {
		if err := l.apply(engine.Command{Type: engine.CmdForfeit, TargetID: id}); err != nil {
			l.log.Warn("forfeit failed", zap.String("participant", id), zap.Error(err))
		}
	}
}

func (l *Lobby) startGame() error {
	if l.state.Phase != engine.PhaseWaiting {
		return engine.ErrGameAlreadyStarted
	}
	if !l.roster.Full() {
		return fmt.Errorf("%w: %d of %d", ErrRosterNotFull, len(l.roster.Active()), l.roster.Capacity())
	}

	seats, err := engine.AssignRoles(l.roster.ActiveIDs(), l.rng)
	if err != nil {
		return err
	}
	if err := l.apply(engine.Command{Type: engine.CmdStartGame, Seats: seats}); err != nil {
		return err
	}
	l.roster.Freeze()
	return nil
}

// apply runs cmd through the engine and commits the result.
func (l *Lobby) apply(cmd engine.Command) error {
	events, next, err := engine.Apply(l.state, cmd)
	if err != nil {
		l.log.Debug("command rejected", zap.String("command", string(cmd.Type)), zap.Error(err))
		return err
	}

	l.state = next
	l.dirty = true
	for _, e := range events {
		l.log.Info("game event",
			zap.String("event", string(e.Type)),
			zap.String("phase", string(e.Phase)),
			zap.Int("day", e.Day),
			zap.String("target", e.TargetID),
			zap.String("winner", string(e.Winner)))
	}
	return nil
}

func (l *Lobby) rosterChanged(c roster.Change) {
	l.dirty = true
	l.log.Debug("roster changed",
		zap.String("change", string(c.Type)),
		zap.String("participant", c.Participant.ID))
}

// publish pushes a personalised snapshot to every connected participant.
func (l *Lobby) publish() {
	l.version++

	list := l.playersList()
	game := protocol.GameState{Phase: l.state.Phase, Day: l.state.Day, Winner: l.state.Winner}

	for _, p := range l.roster.All() {
		ch, ok := l.clients[p.ID]
		if !ok {
			continue
		}
		snap := protocol.StateUpdate{
			PlayerData:  l.playerData(p),
			PlayersList: slices.Clone(list),
			GameState:   game,
		}
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			l.log.Warn("dropping slow participant", zap.String("participant", p.ID))
			l.dropClient(p.ID)
		}
	}

	l.views.Set(l.view())
}

func (l *Lobby) playersList() []protocol.PlayerListItem {
	all := l.roster.All()
	list := make([]protocol.PlayerListItem, 0, len(all))
	for _, p := range all {
		list = append(list, l.playerData(p).Public())
	}
	return list
}

func (l *Lobby) playerData(p roster.Participant) protocol.PlayerData {
	data := protocol.PlayerData{ID: p.ID, Name: p.Name, Status: p.Status}
	if seat, ok := l.state.SeatOf(p.ID); ok {
		data.Index = seat.Index
		data.Role = seat.Role
		data.CharacterImage = seat.Asset
		data.Eliminated = !seat.Alive
	}
	return data
}

func (l *Lobby) dropClient(id string) {
	if ch, ok := l.clients[id]; ok {
		close(ch)
		delete(l.clients, id)
	}
}

func (l *Lobby) view() View {
	s := l.state
	s.Seats = slices.Clone(s.Seats)
	return View{
		Code:       l.code,
		Version:    l.version,
		NumClients: len(l.clients),
		Active:     l.roster.Active(),
		Waiting:    l.roster.Waiting(),
		State:      s,
	}
}

func (l *Lobby) shutdown() {
	for id, ch := range l.clients {
		// hostLeft supersedes anything still queued
		select {
		case ch <- protocol.HostLeft{}:
		default:
			if cap(ch) > 0 {
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- protocol.HostLeft{}:
				default:
				}
			}
		}
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.roster.Clear()
	l.state = engine.NewEmptyState()
	l.views.Set(View{Code: l.code, Version: l.version, State: l.state, Closed: true})
	l.log.Info("lobby closed")
	l.cancel()
}

// Expose the inbox so tests or the host bridge can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Post delivers msg unless the lobby has stopped.
func (l *Lobby) Post(msg Msg) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- msg:
		return true
	case <-l.done:
		return false
	}
}

func (l *Lobby) Code() string { return l.code }

// Done is closed once the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Views exposes the host's read model for subscription.
func (l *Lobby) Views() *store.Store[View] { return l.views }

func (l *Lobby) StartGame(ctx context.Context) error {
	return l.call(ctx, func(reply chan error) Msg { return StartGame{Reply: reply} })
}

func (l *Lobby) Advance(ctx context.Context) error {
	return l.call(ctx, func(reply chan error) Msg { return AdvancePhase{Reply: reply} })
}

func (l *Lobby) Promote(ctx context.Context, id string) error {
	return l.call(ctx, func(reply chan error) Msg { return MoveToActive{ClientID: id, Reply: reply} })
}

func (l *Lobby) Demote(ctx context.Context, id string) error {
	return l.call(ctx, func(reply chan error) Msg { return MoveToWaiting{ClientID: id, Reply: reply} })
}

func (l *Lobby) Eliminate(ctx context.Context, id string) error {
	return l.call(ctx, func(reply chan error) Msg { return Eliminate{ClientID: id, Reply: reply} })
}

func (l *Lobby) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := l.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-l.done:
		return View{}, ErrLobbyClosed
	}
}

// Close notifies every participant that the host left and waits for the
// lobby to stop. Safe to call more than once.
func (l *Lobby) Close() {
	l.Post(Shutdown{})
	<-l.done
}

func (l *Lobby) call(ctx context.Context, build func(reply chan error) Msg) error {
	reply := make(chan error, 1)
	if err := l.send(ctx, build(reply)); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLobbyClosed
	}
}

func (l *Lobby) send(ctx context.Context, msg Msg) error {
	select {
	case l.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLobbyClosed
	}
}
