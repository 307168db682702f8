// Package roster keeps the host's two ordered participant lists: active
// (bounded by capacity) and waiting (unbounded). An identifier is in at most
// one list at a time.
package roster

import (
	"errors"
	"slices"
	"strings"
)

var ErrDuplicateParticipant = errors.New("participant already in roster")
var ErrInvalidParticipant = errors.New("participant needs an id and a name")
var ErrCapacityReached = errors.New("active roster is full")
var ErrNotWaiting = errors.New("participant is not waiting")
var ErrNotActive = errors.New("participant is not active")

// DefaultCapacity is the size of a full table.
const DefaultCapacity = 10

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
)

type Participant struct {
	ID     string
	Name   string
	Status Status
}

type ChangeType string

const (
	ChangeAdmitted ChangeType = "admitted"
	ChangeRemoved  ChangeType = "removed"
	ChangePromoted ChangeType = "promoted"
	ChangeDemoted  ChangeType = "demoted"
)

type Change struct {
	Type        ChangeType
	Participant Participant
}

type Roster struct {
	capacity int
	frozen   bool
	active   []Participant
	waiting  []Participant
	notify   func(Change)
}

type Option func(*Roster)

// WithNotify registers fn to run after every successful mutation.
func WithNotify(fn func(Change)) Option {
	return func(r *Roster) { r.notify = fn }
}

func New(capacity int, opts ...Option) *Roster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Roster{capacity: capacity}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Roster) Capacity() int { return r.capacity }

// Full reports whether the active list is at capacity.
func (r *Roster) Full() bool { return len(r.active) >= r.capacity }

func (r *Roster) Len() int { return len(r.active) + len(r.waiting) }

// Active returns a copy of the active list in admission order.
func (r *Roster) Active() []Participant { return slices.Clone(r.active) }

// Waiting returns a copy of the waiting list in admission order.
func (r *Roster) Waiting() []Participant { return slices.Clone(r.waiting) }

// All returns active participants followed by waiting ones.
func (r *Roster) All() []Participant {
	all := make([]Participant, 0, r.Len())
	all = append(all, r.active...)
	return append(all, r.waiting...)
}

// ActiveIDs returns the active identifiers in order.
func (r *Roster) ActiveIDs() []string {
	ids := make([]string, len(r.active))
	for i, p := range r.active {
		ids[i] = p.ID
	}
	return ids
}

func (r *Roster) Lookup(id string) (Participant, bool) {
	if i := indexOf(r.active, id); i >= 0 {
		return r.active[i], true
	}
	if i := indexOf(r.waiting, id); i >= 0 {
		return r.waiting[i], true
	}
	return Participant{}, false
}

// Freeze stops admissions from reaching the active list. Used once seats are
// dealt.
func (r *Roster) Freeze() { r.frozen = true }

func (r *Roster) Frozen() bool { return r.frozen }

// Admit appends a new participant to active while there is room, otherwise
// to waiting. A frozen roster admits to waiting only.
func (r *Roster) Admit(id, name string) (Participant, error) {
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return Participant{}, ErrInvalidParticipant
	}
	if _, ok := r.Lookup(id); ok {
		return Participant{}, ErrDuplicateParticipant
	}

	p := Participant{ID: id, Name: name, Status: StatusWaiting}
	if !r.Full() && !r.frozen {
		p.Status = StatusActive
		r.active = append(r.active, p)
	} else {
		r.waiting = append(r.waiting, p)
	}
	r.emit(ChangeAdmitted, p)
	return p, nil
}

// Remove deletes id from whichever list holds it. Remaining entries keep
// their relative order.
func (r *Roster) Remove(id string) (Participant, bool) {
	if i := indexOf(r.active, id); i >= 0 {
		p := r.active[i]
		r.active = slices.Delete(r.active, i, i+1)
		r.emit(ChangeRemoved, p)
		return p, true
	}
	if i := indexOf(r.waiting, id); i >= 0 {
		p := r.waiting[i]
		r.waiting = slices.Delete(r.waiting, i, i+1)
		r.emit(ChangeRemoved, p)
		return p, true
	}
	return Participant{}, false
}

// MoveToActive promotes a waiting participant to the end of the active list.
func (r *Roster) MoveToActive(id string) error {
	i := indexOf(r.waiting, id)
	if i < 0 {
		return ErrNotWaiting
	}
	if r.Full() {
		return ErrCapacityReached
	}

	p := r.waiting[i]
	p.Status = StatusActive
	r.waiting = slices.Delete(r.waiting, i, i+1)
	r.active = append(r.active, p)
	r.emit(ChangePromoted, p)
	return nil
}

// MoveToWaiting demotes an active participant to the end of the waiting list.
func (r *Roster) MoveToWaiting(id string) error {
	i := indexOf(r.active, id)
	if i < 0 {
		return ErrNotActive
	}

	p := r.active[i]
	p.Status = StatusWaiting
	r.active = slices.Delete(r.active, i, i+1)
	r.waiting = append(r.waiting, p)
	r.emit(ChangeDemoted, p)
	return nil
}

// Clear empties both lists and unfreezes, without notifying.
func (r *Roster) Clear() {
	r.active = nil
	r.waiting = nil
	r.frozen = false
}

func (r *Roster) emit(t ChangeType, p Participant) {
	if r.notify != nil {
		r.notify(Change{Type: t, Participant: p})
	}
}

func indexOf(list []Participant, id string) int {
	return slices.IndexFunc(list, func(p Participant) bool { return p.ID == id })
}
