// Package replica is the participant side of a session: a read-only copy of
// the host's state that is replaced wholesale by every snapshot.
package replica

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/mafia-session/internal/protocol"
	"github.com/DoyleJ11/mafia-session/internal/store"
	"go.uber.org/zap"
)

var ErrSessionTerminated = errors.New("session terminated by host")
var ErrUnexpectedMessage = errors.New("message not accepted from host")
var ErrNotAddressed = errors.New("snapshot addressed to another participant")

// State is everything a participant knows about the session. The zero value
// is an empty, unsynced view.
type State struct {
	Self       protocol.PlayerData
	Players    []protocol.PlayerListItem
	Game       protocol.GameState
	Synced     bool
	Terminated bool
}

type Replica struct {
	selfID string
	state  *store.Store[State]
	log    *zap.Logger
}

func New(selfID string, log *zap.Logger) *Replica {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replica{
		selfID: selfID,
		state:  store.New(State{}),
		log:    log.Named("replica").With(zap.String("participant", selfID)),
	}
}

// Apply folds a validated message from the host into the view. A snapshot
// replaces the whole view; hostLeft invalidates it and returns
// ErrSessionTerminated.
func (r *Replica) Apply(m protocol.Message) error {
	switch msg := m.(type) {
	case protocol.StateUpdate:
		if msg.PlayerData.ID != r.selfID {
			return ErrNotAddressed
		}
		next := State{
			Self:    msg.PlayerData,
			Players: slices.Clone(msg.PlayersList),
			Game:    msg.GameState,
			Synced:  true,
		}
		applied := false
		r.state.Update(func(cur State) State {
			if cur.Terminated {
				return cur
			}
			applied = true
			return next
		})
		if !applied {
			return ErrSessionTerminated
		}
		r.log.Debug("snapshot applied",
			zap.String("phase", string(msg.GameState.Phase)),
			zap.Int("players", len(msg.PlayersList)))
		return nil

	case protocol.HostLeft:
		r.Invalidate()
		return ErrSessionTerminated

	default:
		return ErrUnexpectedMessage
	}
}

// Invalidate clears roster, session and own identity and marks the view
// terminated. Later snapshots are ignored.
func (r *Replica) Invalidate() {
	r.state.Set(State{Terminated: true})
	r.log.Info("replica invalidated")
}

func (r *Replica) State() State { return r.state.Get() }

// Subscribe delivers the latest view after each change.
func (r *Replica) Subscribe() (<-chan State, func()) { return r.state.Subscribe() }
