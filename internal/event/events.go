// Package event implements the template/event engine: it renders
// parametrised text templates on named lifecycle events, writes them to
// files, publishes them on a pub/sub bus, and drives the command runner
// with the same variable expansion.
//
// The grammar (%var%, %for%, %if%, $var$ inner expansion) follows the same
// split HashiCorp's consul-template uses between its `template` package
// (parsing/rendering) and its `manager.Runner` (wiring renders to files,
// commands, and a watch loop).
package event

// Name identifies one of the closed set of lifecycle events a template or
// --<event>_cmd flag can register for.
type Name string

// All events.
const (
	MatchGroupDone Name = "match_group_done"
	StateChange Name = "state_change"
	DoLockout Name = "do_lockout"
	DoUnlock Name = "do_unlock"
	SaveImg Name = "save_img"
	MatchDone Name = "match_done"
	FrameObstructed Name = "frame_obstructed"
	RfidDetect Name = "rfid_detect"
	RfidMatch Name = "rfid_match"
)

// AllEvents lists every event in the canonical order they're documented,
// used for --eventhelp-style introspection.
var AllEvents = []Name{
	MatchGroupDone,
	StateChange,
	DoLockout,
	DoUnlock,
	SaveImg,
	MatchDone,
	FrameObstructed,
	RfidDetect,
	RfidMatch,
}

// sentinels that match every event when used in a template's "event" list.
const (
	sentinelStar = "*"
	sentinelAll = "all"
)

// matchesEvent reports whether a template's configured event list includes name.
func matchesEvent(configured []string, name Name) bool {
	for _, c := range configured {
		if c == sentinelStar || c == sentinelAll || Name(c) == name {
			return true
		}
	}
	return false
}
