package engine

// PhaseOrder maps every phase to the phase that follows it when the host
// advances. PhaseWaiting only leaves through CmdStartGame and PhaseEnded is
// terminal, so neither has an entry.
var PhaseOrder = map[Phase]Phase{
	// First night
	PhaseRoleReveal: PhaseMafiaSetup,
	PhaseMafiaSetup: PhaseDayStart,
	// Regular night
	PhaseMafiaKill:    PhaseSheriffCheck,
	PhaseSheriffCheck: PhaseDonCheck,
	PhaseDonCheck:     PhaseDayStart,
	// Day
	PhaseDayStart:   PhaseDiscussion,
	PhaseDiscussion: PhaseDefense,
	PhaseDefense:    PhaseFinalVote,
	PhaseFinalVote:  PhaseMafiaKill, // day += 1
}

// checkpoints are the phases whose exit is preceded by a game-over check.
var checkpoints = map[Phase]bool{
	PhaseDayStart:  true,
	PhaseFinalVote: true,
}

// Next returns the phase and day that follow (phase, day), ignoring game-over.
func Next(phase Phase, day int) (Phase, int, error) {
	switch phase {
	case PhaseWaiting:
		return phase, day, ErrGameNotStarted
	case PhaseEnded:
		return phase, day, ErrGameAlreadyCompleted
	}
	next, ok := PhaseOrder[phase]
	if !ok {
		return phase, day, ErrUnknownPhase
	}
	if phase == PhaseFinalVote {
		day++
	}
	return next, day, nil
}
