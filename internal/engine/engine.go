package engine

import (
	"errors"
	"slices"
)

var ErrIllegalTransition = errors.New("illegal transition")
var ErrGameNotStarted = errors.New("game not started")
var ErrGameAlreadyStarted = errors.New("game already started")
var ErrGameAlreadyCompleted = errors.New("game already completed")
var ErrUnknownPhase = errors.New("unknown phase")
var ErrInvalidSeats = errors.New("invalid seating")
var ErrUnknownSeat = errors.New("no such seat")
var ErrAlreadyEliminated = errors.New("participant already eliminated")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Phase string

const (
	PhaseWaiting Phase = "waiting"

	PhaseRoleReveal   Phase = "night.roleReveal"
	PhaseMafiaSetup   Phase = "night.mafiaSetup"
	PhaseMafiaKill    Phase = "night.mafiaKill"
	PhaseSheriffCheck Phase = "night.sheriffCheck"
	PhaseDonCheck     Phase = "night.donCheck"

	PhaseDayStart   Phase = "day.start"
	PhaseDiscussion Phase = "day.discussion"
	PhaseDefense    Phase = "day.defense"
	PhaseFinalVote  Phase = "day.finalVote"

	PhaseEnded Phase = "ended"
)

// Phases lists every phase in declaration order.
var Phases = []Phase{
	PhaseWaiting,
	PhaseRoleReveal, PhaseMafiaSetup, PhaseMafiaKill, PhaseSheriffCheck, PhaseDonCheck,
	PhaseDayStart, PhaseDiscussion, PhaseDefense, PhaseFinalVote,
	PhaseEnded,
}

type Stage string

const (
	StageWaiting Stage = "waiting"
	StageNight   Stage = "night"
	StageDay     Stage = "day"
	StageEnded   Stage = "ended"
)

func (p Phase) Valid() bool { return slices.Contains(Phases, p) }

func (p Phase) Stage() Stage {
	switch p {
	case PhaseRoleReveal, PhaseMafiaSetup, PhaseMafiaKill, PhaseSheriffCheck, PhaseDonCheck:
		return StageNight
	case PhaseDayStart, PhaseDiscussion, PhaseDefense, PhaseFinalVote:
		return StageDay
	case PhaseEnded:
		return StageEnded
	default:
		return StageWaiting
	}
}

// InProgress reports whether seats exist and the game has not ended.
func (p Phase) InProgress() bool {
	return p != PhaseWaiting && p != PhaseEnded
}

// Seat is a participant's game-time record. Seats are created once by
// CmdStartGame; only Alive changes afterwards.
type Seat struct {
	ID    string
	Index int
	Role  Role
	Asset string
	Alive bool
}

type State struct {
	Phase  Phase
	Day    int
	Winner Team
	Seats  []Seat
}

type CommandType string

const (
	CmdStartGame    CommandType = "StartGame"
	CmdAdvancePhase CommandType = "AdvancePhase"
	CmdEliminate    CommandType = "Eliminate"
	CmdForfeit      CommandType = "Forfeit"
)

/*
	CmdStartGame    -> EvtGameStarted -> EvtPhaseAdvanced
	CmdAdvancePhase -> EvtPhaseAdvanced (+ EvtDayStarted when the final vote rolls into night)
	                or EvtGameEnded when leaving a checkpoint phase with a decided game
	CmdEliminate    -> EvtPlayerEliminated (kill at night.mafiaKill, vote-out at day.finalVote)
	CmdForfeit      -> EvtPlayerEliminated (seat holder disconnected, any in-progress phase)
*/

type Command struct {
	Type     CommandType
	Seats    []Seat // CmdStartGame
	TargetID string // CmdEliminate, CmdForfeit
}

type EventType string

const (
	EvtGameStarted      EventType = "GameStarted"
	EvtPhaseAdvanced    EventType = "PhaseAdvanced"
	EvtDayStarted       EventType = "DayStarted"
	EvtPlayerEliminated EventType = "PlayerEliminated"
	EvtGameEnded        EventType = "GameEnded"
)

type Event struct {
	Type     EventType
	Phase    Phase
	Day      int
	TargetID string
	Winner   Team
}

// Apply validates cmd against s and returns the resulting events and state.
// s is never modified; on error the returned state is s.
func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdStartGame:
		if s.Phase != PhaseWaiting {
			return nil, s, ErrGameAlreadyStarted
		}
		if err := ValidateSeats(cmd.Seats); err != nil {
			return nil, s, err
		}

		newState := State{
			Phase: PhaseRoleReveal,
			Day:   1,
			Seats: slices.Clone(cmd.Seats),
		}
		for i := range newState.Seats {
			newState.Seats[i].Alive = true
		}
		events := []Event{
			{Type: EvtGameStarted, Day: newState.Day},
			{Type: EvtPhaseAdvanced, Phase: newState.Phase, Day: newState.Day},
		}
		return events, newState, nil

	case CmdAdvancePhase:
		if s.Phase == PhaseWaiting {
			// Leaving the lobby requires role assignment.
			return nil, s, ErrIllegalTransition
		}
		if s.Phase == PhaseEnded {
			return nil, s, ErrGameAlreadyCompleted
		}

		newState := s
		newState.Seats = slices.Clone(s.Seats)

		if checkpoints[s.Phase] {
			if winner, over := CheckGameOver(s.Seats); over {
				newState.Phase = PhaseEnded
				newState.Winner = winner
				return []Event{{Type: EvtGameEnded, Phase: PhaseEnded, Day: s.Day, Winner: winner}}, newState, nil
			}
		}

		next, day, err := Next(s.Phase, s.Day)
		if err != nil {
			return nil, s, err
		}
		newState.Phase = next
		newState.Day = day

		events := []Event{{Type: EvtPhaseAdvanced, Phase: next, Day: day}}
		if day != s.Day {
			events = append(events, Event{Type: EvtDayStarted, Day: day})
		}
		return events, newState, nil

	case CmdEliminate:
		if s.Phase != PhaseMafiaKill && s.Phase != PhaseFinalVote {
			return nil, s, ErrIllegalTransition
		}
		return eliminate(s, cmd.TargetID)

	case CmdForfeit:
		if !s.Phase.InProgress() {
			return nil, s, ErrGameNotStarted
		}
		return eliminate(s, cmd.TargetID)

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func eliminate(s State, id string) ([]Event, State, error) {
	i := seatIndex(s.Seats, id)
	if i < 0 {
		return nil, s, ErrUnknownSeat
	}
	if !s.Seats[i].Alive {
		return nil, s, ErrAlreadyEliminated
	}

	newState := s
	newState.Seats = slices.Clone(s.Seats)
	newState.Seats[i].Alive = false
	return []Event{{Type: EvtPlayerEliminated, Phase: s.Phase, Day: s.Day, TargetID: id}}, newState, nil
}

// CheckGameOver reports the winning team once either side has won: civilians
// when no mafia-aligned seat is alive, mafia at parity or majority.
func CheckGameOver(seats []Seat) (Team, bool) {
	aliveMafia, aliveCivilians := 0, 0
	for _, seat := range seats {
		if !seat.Alive {
			continue
		}
		switch seat.Role.Team() {
		case TeamMafia:
			aliveMafia++
		case TeamCivilians:
			aliveCivilians++
		}
	}

	if aliveMafia == 0 {
		return TeamCivilians, true
	}
	if aliveMafia >= aliveCivilians {
		return TeamMafia, true
	}
	return "", false
}

func seatIndex(seats []Seat, id string) int {
	return slices.IndexFunc(seats, func(seat Seat) bool { return seat.ID == id })
}

// SeatOf returns the seat held by id, if any.
func (s State) SeatOf(id string) (Seat, bool) {
	i := seatIndex(s.Seats, id)
	if i < 0 {
		return Seat{}, false
	}
	return s.Seats[i], true
}
