package event

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

var startupBuildInfo = readBuildInfo()

// splitArg splits a "name:arg" variable into its base name and optional
// trailing argument, used by the group/match/obstruct time vars' "[:fmt]"
// suffix and the hex id vars' "[:N]" truncation suffix.
func splitArg(name string) (base, arg string, hasArg bool) {
	i := strings.IndexByte(name, ':')
	if i < 0 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

func formatTime(t time.Time, arg string, hasArg bool) string {
	if !hasArg || arg == "" {
		return t.Format(timeLayout)
	}
	return t.Format(strftimeToGo(normalizeFmtSep(arg)))
}

func truncateID(id, arg string, hasArg bool) string {
	if !hasArg || arg == "" {
		return id
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 || n >= len(id) {
		return id
	}
	return id[:n]
}

// newResolver builds the outermost variable lookup function render() uses:
// tiers 1-6 of the lookup chain (see resolveBase), tried in order until one
// claims the name; tier 7, user vars, is tried by renderer.lookup before
// this resolver is reached. Path-shaped
// values additionally accept a "|dir", "|abs" or "|rel(base)" suffix
// modifier.
func newResolver(snap Snapshot) func(name string) (string, bool, error) {
	return func(raw string) (string, bool, error) {
		name, mods := splitModifiers(raw)

		val, ok, err := resolveBase(snap, name)
		if err != nil || !ok {
			return val, ok, err
		}
		for _, m := range mods {
			val, err = applyModifier(val, m)
			if err != nil {
				return "", true, err
			}
		}
		return val, true, nil
	}
}

func splitModifiers(raw string) (name string, mods []string) {
	parts := strings.Split(raw, "|")
	return parts[0], parts[1:]
}

func applyModifier(val, mod string) (string, error) {
	switch {
	case mod == "dir":
		return filepath.Dir(val), nil
	case mod == "abs":
		a, err := filepath.Abs(val)
		if err != nil {
			return "", fmt.Errorf("event: abs %q: %w", val, err)
		}
		return a, nil
	case strings.HasPrefix(mod, "rel(") && strings.HasSuffix(mod, ")"):
		base := strings.TrimSuffix(strings.TrimPrefix(mod, "rel("), ")")
		r, err := filepath.Rel(base, val)
		if err != nil {
			return "", fmt.Errorf("event: rel %q from %q: %w", val, base, err)
		}
		return r, nil
	default:
		return "", fmt.Errorf("event: unknown path modifier %q", mod)
	}
}

// resolveBase implements tiers 1-6: core, paths, group, per-match
// (including match#_* and matchcur_* wildcards), obstruct, and the
// matcher-specific tier. Tier 7 (user vars) is handled by renderer.lookup
// before this is ever called.
func resolveBase(snap Snapshot, name string) (string, bool, error) {
	if v, ok := coreVar(snap, name); ok {
		return v, true, nil
	}
	if v, ok := pathVar(snap.Paths, name); ok {
		return v, true, nil
	}
	if v, ok := groupVar(snap.Group, name); ok {
		return v, true, nil
	}
	if v, ok, handled := matchVar(snap.Group, name); handled {
		return v, ok, nil
	}
	if v, ok := obstructVar(snap.Group, name); ok {
		return v, true, nil
	}
	if snap.Translate != nil {
		if v, ok := snap.Translate(name); ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

func coreVar(snap Snapshot, name string) (string, bool) {
	base, arg, hasArg := splitArg(name)
	switch base {
	case "state":
		return snap.State, true
	case "prev_state":
		return snap.PrevState, true
	case "matcher":
		return snap.MatcherName, true
	case "time":
		return formatTime(time.Now(), arg, hasArg), true
	case "version":
		return startupBuildInfo.version, true
	case "git_hash":
		return startupBuildInfo.gitHash, true
	case "git_hash_short":
		return startupBuildInfo.gitHashShort(), true
	case "git_tainted":
		return boolStr(startupBuildInfo.gitTainted), true
	case "cwd":
		wd, err := os.Getwd()
		if err != nil {
			return "", true
		}
		return wd, true
	default:
		return "", false
	}
}

func pathVar(p Paths, name string) (string, bool) {
	switch name {
	case "output_path":
		return p.Output, true
	case "match_output_path":
		return p.MatchOutput, true
	case "steps_output_path":
		return p.StepsOutput, true
	case "obstruct_output_path":
		return p.ObstructOutput, true
	case "template_output_path":
		return p.TemplateOutput, true
	default:
		return "", false
	}
}

func groupVar(g GroupSnapshot, name string) (string, bool) {
	base, arg, hasArg := splitArg(name)
	switch base {
	case "group_id", "match_group_id":
		return truncateID(g.ID, arg, hasArg), true
	case "group_start_time", "match_group_start_time":
		return formatTime(g.StartTime, arg, hasArg), true
	case "group_success", "match_group_success":
		return boolStr(g.Success), true
	case "group_success_count", "match_group_success_count":
		return strconv.Itoa(g.SuccessCount), true
	case "group_final_decision", "match_group_final_decision":
		return boolStr(g.FinalDecision), true
	case "group_description", "match_group_desc":
		return g.Description, true
	case "group_direction", "match_group_direction":
		return g.Direction, true
	case "group_count", "match_group_count":
		return strconv.Itoa(g.Count), true
	case "group_max_count", "match_group_max_count":
		return strconv.Itoa(g.MaxCount), true
	default:
		return "", false
	}
}

func obstructVar(g GroupSnapshot, name string) (string, bool) {
	base, arg, hasArg := splitArg(name)
	switch base {
	case "obstruct_filename":
		return g.ObstructFilename, true
	case "obstruct_path":
		return g.ObstructPath, true
	case "obstruct_time":
		return formatTime(g.ObstructTime, arg, hasArg), true
	default:
		return "", false
	}
}

// matchVar resolves match<N>_<field> and matchcur_<field>. handled is true
// whenever the prefix matched a match-var shape, even if the index is out
// of range or the field is unknown, so resolveBase doesn't fall through to
// later tiers on a typo'd field name.
func matchVar(g GroupSnapshot, name string) (value string, ok bool, handled bool) {
	rest, isCur := strings.CutPrefix(name, "matchcur_")
	idx := g.CurrentIdx
	if !isCur {
		var n string
		n, rest, ok = cutMatchIndex(name)
		if !ok {
			return "", false, false
		}
		i, err := strconv.Atoi(n)
		if err != nil {
			return "", false, false
		}
		idx = i
	}
	if idx < 0 || idx >= len(g.Matches) {
		return "", false, true
	}
	v, ok := matchFieldVar(g.Matches[idx], rest)
	return v, ok, true
}

// cutMatchIndex splits "match3_filename" into ("3", "filename", true).
func cutMatchIndex(name string) (idx, field string, ok bool) {
	rest, found := strings.CutPrefix(name, "match")
	if !found {
		return "", "", false
	}
	us := strings.IndexByte(rest, '_')
	if us < 0 {
		return "", "", false
	}
	idxPart := rest[:us]
	if idxPart == "" || idxPart == "cur" {
		return "", "", false
	}
	for _, c := range idxPart {
		if c < '0' || c > '9' {
			return "", "", false
		}
	}
	return idxPart, rest[us+1:], true
}

func matchFieldVar(m MatchSnapshot, field string) (string, bool) {
	base, arg, hasArg := splitArg(field)
	switch base {
	case "filename":
		return m.Filename, true
	case "path":
		return m.Path, true
	case "success":
		return boolStr(m.Success), true
	case "success_str":
		return successStr(m.Success), true
	case "direction":
		return m.Direction, true
	case "desc", "description":
		return m.Desc, true
	case "result":
		return m.Result, true
	case "time":
		return formatTime(m.Time, arg, hasArg), true
	case "id":
		return truncateID(m.ID, arg, hasArg), true
	case "idx":
		return strconv.Itoa(m.Idx), true
	case "step_count":
		return strconv.Itoa(len(m.Steps)), true
	default:
		if step, ok := matchStepVar(m, field); ok {
			return step, true
		}
		return "", false
	}
}

// matchStepVar resolves match#_step<N>_<field>.
func matchStepVar(m MatchSnapshot, field string) (string, bool) {
	rest, found := strings.CutPrefix(field, "step")
	if !found {
		return "", false
	}
	us := strings.IndexByte(rest, '_')
	if us < 0 {
		return "", false
	}
	n, err := strconv.Atoi(rest[:us])
	if err != nil || n < 0 || n >= len(m.Steps) {
		return "", false
	}
	step := m.Steps[n]
	switch rest[us+1:] {
	case "filename":
		return step.Filename, true
	case "path":
		return step.Path, true
	case "name":
		return step.Name, true
	case "desc", "description":
		return step.Desc, true
	case "active":
		return boolStr(step.Active), true
	default:
		return "", false
	}
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func successStr(b bool) string {
	if b {
		return "success"
	}
	return "fail"
}
