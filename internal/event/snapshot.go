package event

import "time"

// StepSnapshot is a read-only view of one matcher.Step for template
// rendering.
type StepSnapshot struct {
	Path string
	Filename string
	Name string
	Desc string
	Active bool
}

// MatchSnapshot is a read-only view of one fsm.MatchState for template
// rendering.
type MatchSnapshot struct {
	Filename string
	Path string
	Success bool
	Direction string
	Desc string
	Result string
	Time time.Time
	Steps []StepSnapshot
	ID string
	Idx int
}

// GroupSnapshot is a read-only view of the active fsm.MatchGroup, built
// fresh by the FSM before every Trigger call so the template engine never
// holds a pointer back into FSM-owned state.
type GroupSnapshot struct {
	ID string
	StartTime time.Time
	Success bool
	SuccessCount int
	FinalDecision bool
	Description string
	Direction string
	Count int
	MaxCount int
	Matches []MatchSnapshot
	CurrentIdx int // index into Matches that matchcur_* resolves against, -1 if none yet

	ObstructFilename string
	ObstructPath string
	ObstructTime time.Time
}

// Paths bundles the five output directories a template may reference by
// name.
type Paths struct {
	Output string
	MatchOutput string
	StepsOutput string
	ObstructOutput string
	TemplateOutput string
}

// MatcherTranslate resolves a matcher-specific variable. It mirrors matcher.Matcher.Translate's signature without importing
// the matcher package, keeping event free of a dependency on image
// processing.
type MatcherTranslate func(name string) (value string, ok bool)

// Snapshot is everything Trigger needs to render every registered template
// for one event.
type Snapshot struct {
	State string
	PrevState string
	MatcherName string
	Group GroupSnapshot
	Paths Paths
	Translate MatcherTranslate
}
