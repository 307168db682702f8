package protocol

import (
	"github.com/DoyleJ11/mafia-session/internal/engine"
	"github.com/DoyleJ11/mafia-session/internal/roster"
)

type Type string

const (
	TypeJoin        Type = "join"
	TypeLeave       Type = "leave"
	TypeStateUpdate Type = "stateUpdate"
	TypeHostLeft    Type = "hostLeft"
)

// Message is one of Join, Leave, StateUpdate or HostLeft.
type Message interface {
	MessageType() Type
	isMessage()
}

// Join is sent by a participant once its connection opens.
type Join struct {
	ID   string `json:"id" validate:"required,utf8,max=64"`
	Name string `json:"name" validate:"required,utf8,notblank,max=32"`
}

// Leave announces a voluntary departure.
type Leave struct {
	ID string `json:"id" validate:"required,utf8,max=64"`
}

// StateUpdate is the full snapshot pushed by the host to one participant.
type StateUpdate struct {
	PlayerData  PlayerData       `json:"playerData"`
	PlayersList []PlayerListItem `json:"playersList" validate:"required,dive"`
	GameState   GameState        `json:"gameState"`
}

// HostLeft tells every participant the session is over.
type HostLeft struct{}

func (Join) MessageType() Type        { return TypeJoin }
func (Leave) MessageType() Type       { return TypeLeave }
func (StateUpdate) MessageType() Type { return TypeStateUpdate }
func (HostLeft) MessageType() Type    { return TypeHostLeft }

func (Join) isMessage()        {}
func (Leave) isMessage()       {}
func (StateUpdate) isMessage() {}
func (HostLeft) isMessage()    {}

// PlayerListItem is the public view of a participant.
type PlayerListItem struct {
	ID         string        `json:"id" validate:"required,utf8"`
	Name       string        `json:"name" validate:"required,utf8"`
	Index      int           `json:"index,omitempty" validate:"gte=0"`
	Status     roster.Status `json:"status" validate:"status"`
	Eliminated bool          `json:"eliminated,omitempty"`
}

// PlayerData is the recipient's own record, including private fields.
type PlayerData struct {
	ID             string        `json:"id" validate:"required,utf8"`
	Name           string        `json:"name" validate:"required,utf8"`
	Index          int           `json:"index,omitempty" validate:"gte=0"`
	Status         roster.Status `json:"status" validate:"status"`
	Eliminated     bool          `json:"eliminated,omitempty"`
	Role           engine.Role   `json:"role,omitempty" validate:"omitempty,role"`
	CharacterImage string        `json:"characterImage,omitempty" validate:"omitempty,utf8"`
}

// Public strips the private fields.
func (p PlayerData) Public() PlayerListItem {
	return PlayerListItem{
		ID:         p.ID,
		Name:       p.Name,
		Index:      p.Index,
		Status:     p.Status,
		Eliminated: p.Eliminated,
	}
}

type GameState struct {
	Phase  engine.Phase `json:"phase" validate:"phase"`
	Day    int          `json:"day" validate:"gte=0"`
	Winner engine.Team  `json:"winner,omitempty" validate:"omitempty,oneof=mafia civilians"`
}
