package main

import (
	"strconv"

	"github.com/DoyleJ11/mafia-session/internal/engine"
	"github.com/DoyleJ11/mafia-session/internal/lobby"
	"github.com/DoyleJ11/mafia-session/internal/protocol"
	"github.com/DoyleJ11/mafia-session/internal/replica"
	"github.com/pterm/pterm"
)

// renderHostView prints the host's full view, roles included.
func renderHostView(v lobby.View) {
	if v.Closed {
		pterm.Info.Println("Session closed")
		return
	}
	seats := make(map[string]engine.Seat, len(v.State.Seats))
	for _, s := range v.State.Seats {
		seats[s.ID] = s
	}

	data := pterm.TableData{{"ID", "Name", "Status", "Seat", "Role", "Alive"}}
	for _, p := range v.Active {
		row := []string{p.ID, p.Name, string(p.Status), "", "", ""}
		if s, ok := seats[p.ID]; ok {
			row[3] = strconv.Itoa(s.Index)
			row[4] = string(s.Role)
			row[5] = strconv.FormatBool(s.Alive)
		}
		data = append(data, row)
	}
	for _, p := range v.Waiting {
		data = append(data, []string{p.ID, p.Name, string(p.Status), "", "", ""})
	}

	pterm.DefaultSection.Println(v.Code + "  " + phaseLine(v.State.Phase, v.State.Day, v.State.Winner))
	_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// renderReplica prints what one participant is allowed to see.
func renderReplica(st replica.State) {
	if st.Terminated || !st.Synced {
		return
	}

	self := st.Self
	info := pterm.Sprintfln("Name: %s", self.Name) +
		pterm.Sprintfln("Status: %s", self.Status) +
		pterm.Sprintfln("Phase: %s", phaseLine(st.Game.Phase, st.Game.Day, st.Game.Winner))
	if self.Role != "" {
		info += pterm.Sprintfln("Role: %s  Seat: %d", roleLabel(self.Role), self.Index)
	}
	if self.Eliminated {
		info += pterm.LightRed("You have been eliminated")
	}
	box := pterm.DefaultBox.WithHorizontalPadding(4).
		WithTitle(pterm.LightYellow("|YOU|")).WithTitleTopCenter().Sprint(info)

	data := pterm.TableData{{"Seat", "Name", "Status", ""}}
	for _, p := range st.Players {
		data = append(data, playerRow(p))
	}
	table, _ := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()

	_ = pterm.DefaultPanel.WithPanels([][]pterm.Panel{{
		{Data: box},
		{Data: table},
	}}).Render()
}

func playerRow(p protocol.PlayerListItem) []string {
	seat := ""
	if p.Index > 0 {
		seat = strconv.Itoa(p.Index)
	}
	mark := ""
	if p.Eliminated {
		mark = pterm.LightRed("out")
	}
	return []string{seat, p.Name, string(p.Status), mark}
}

func phaseLine(phase engine.Phase, day int, winner engine.Team) string {
	switch {
	case phase == engine.PhaseEnded && winner != "":
		return pterm.LightGreen("game over, " + string(winner) + " win")
	case phase == engine.PhaseWaiting:
		return "waiting for players"
	default:
		return string(phase.Stage()) + " " + strconv.Itoa(day) + ", " + string(phase)
	}
}

func roleLabel(r engine.Role) string {
	if r.Team() == engine.TeamMafia {
		return pterm.LightRed(string(r))
	}
	return pterm.LightBlue(string(r))
}
