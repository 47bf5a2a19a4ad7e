package fsm

import (
	"fmt"

	"github.com/catcierge/catcierge/internal/event"
	"github.com/catcierge/catcierge/internal/matcher"
)

// snapshot builds a fresh, read-only event.Snapshot from the FSM's current
// state so the template engine never holds a pointer back into FSM-owned
// state.
func (m *Machine) snapshot() event.Snapshot {
	g := m.group
	gs := event.GroupSnapshot{
		ID: fmt.Sprintf("%x", g.ID),
		StartTime: g.StartTime,
		Success: g.Success(),
		SuccessCount: g.SuccessCount,
		FinalDecision: g.FinalDecision(),
		Description: g.Description(),
		Direction: g.Direction().String(),
		Count: g.MatchCount(),
		MaxCount: g.MaxCount,
		CurrentIdx: g.MatchCount() - 1,

		ObstructFilename: g.ObstructPath.Filename,
		ObstructPath: g.ObstructPath.Full,
		ObstructTime: g.ObstructTime,
	}
	for i, ms := range g.Matches {
		gs.Matches = append(gs.Matches, event.MatchSnapshot{
			Filename: ms.Path.Filename,
			Path: ms.Path.Full,
			Success: ms.Result.Success,
			Direction: ms.Result.Direction.String(),
			Desc: ms.Result.Description,
			Result: fmt.Sprintf("%.3f", ms.Result.Score),
			Time: ms.CapturedAt,
			ID: fmt.Sprintf("%x", ms.ID),
			Idx: i,
			Steps: stepSnapshots(ms.Result.Steps),
		})
	}

	return event.Snapshot{
		State: m.state.String(),
		PrevState: m.prevState.String(),
		MatcherName: m.matcherName,
		Group: gs,
		Paths: m.paths,
		Translate: m.matcher.Translate,
	}
}

func stepSnapshots(steps []matcher.Step) []event.StepSnapshot {
	out := make([]event.StepSnapshot, len(steps))
	for i, s := range steps {
		out[i] = event.StepSnapshot{
			Path: s.Path.Full,
			Filename: s.Path.Filename,
			Name: s.Name,
			Desc: s.Desc,
			Active: s.Active,
		}
	}
	return out
}
