// Package config implements catcierge's CLI/config-file surface: an INI
// config file merged under command-line flags, following the same
// config-then-flags precedence and mainImpl()/main() split as lepton's
// cmd/lepton/main.go, but replacing its ad hoc JSON config with
// gopkg.in/ini.v1 to match catcierge's documented INI format.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/catcierge/catcierge/internal/event"
)

// cliOnlyKeys are rejected if present in a config file.
var cliOnlyKeys = map[string]bool{
	"config": true,
	"no_default_config": true,
	"help": true,
	"camhelp": true,
	"cmdhelp": true,
	"eventhelp": true,
}

// Config is every knob names.
type Config struct {
	// Matching
	TemplateMatcher bool
	HaarMatcher bool
	OkMatchesNeeded int
	MatchTime float64
	NoFinalDecision bool

	// Template matcher
	Snouts []string
	Threshold float64
	MatchFlipped bool

	// Haar matcher
	Cascade string
	InDirection string
	MinSize string
	NoMatchFail bool
	EqHistogram bool
	PreyMethod string
	PreySteps int

	// Lockout
	LockoutMethod int
	LockoutTime float64
	LockoutErrorCount int
	LockoutErrorDelay float64
	LockoutDummy bool

	// ROI / startup
	Camera string
	StartupDelay float64
	ROI [4]int
	HasROI bool
	AutoROI bool
	AutoROIThr float64
	MinBacklight int
	SaveAutoROI bool

	// Output
	Save bool
	SaveObstruct bool
	SaveSteps bool
	Inputs []string
	OutputPath string
	MatchOutputPath string
	StepsOutputPath string
	ObstructOutputPath string
	TemplateOutputPath string
	ZMQ bool
	ZMQPort int
	ZMQIface string
	ZMQTransport string

	// RFID
	RfidIn string
	RfidOut string
	RfidLock bool
	RfidTime float64
	RfidAllowed []string

	// GPIO / lifecycle
	LockoutGPIOPin int
	BacklightGPIOPin int
	BacklightEnable bool
	Chuid string
	BaseTime string
	NoColor bool
	NoAnim bool

	// Per-event commands and user vars
	EventCmds map[event.Name][]string
	UserVars []string

	// Startup-only, CLI-only
	ConfigPath string
	NoDefaultConfig bool
	PIDFile string
	StatusAddr string
	Help bool
	CamHelp bool
	CmdHelp bool
	EventHelp bool
}

// DefaultConfigPath is the "./catcierge.cfg or a platform default".
const DefaultConfigPath = "./catcierge.cfg"

// Load parses args in two passes: the config file first, then the command
// line, with the command line overriding any config-file value for the
// same key.
func Load(args []string) (*Config, error) {
	cfg := &Config{EventCmds: map[event.Name][]string{}}
	fs := flag.NewFlagSet("catcierge", flag.ContinueOnError)

	fs.StringVar(&cfg.ConfigPath, "config", DefaultConfigPath, "path to the INI config file")
	fs.BoolVar(&cfg.NoDefaultConfig, "no_default_config", false, "do not load the default config file")
	fs.StringVar(&cfg.PIDFile, "pidfile", "", "write a locked PID file here, empty disables it")
	fs.StringVar(&cfg.StatusAddr, "status_addr", "", "address to serve the local status page on, empty disables it")
	fs.BoolVar(&cfg.Help, "help", false, "print usage and exit")
	fs.BoolVar(&cfg.CamHelp, "camhelp", false, "print camera/matcher option help and exit")
	fs.BoolVar(&cfg.CmdHelp, "cmdhelp", false, "print --<event>_cmd option help and exit")
	fs.BoolVar(&cfg.EventHelp, "eventhelp", false, "print the list of events and exit")

	fs.BoolVar(&cfg.TemplateMatcher, "template_matcher", false, "use the template matcher")
	fs.BoolVar(&cfg.HaarMatcher, "haar_matcher", false, "use the Haar cascade matcher")
	fs.IntVar(&cfg.OkMatchesNeeded, "ok_matches_needed", 2, "successful matches needed out of MATCH_MAX_COUNT")
	fs.Float64Var(&cfg.MatchTime, "matchtime", 0, "seconds to keep the door open before rearming")
	fs.BoolVar(&cfg.NoFinalDecision, "no_final_decision", false, "skip matcher.decide's veto")

	fs.Var(newStringList(&cfg.Snouts), "snout", "snout template image (repeatable, max 24)")
	fs.Float64Var(&cfg.Threshold, "threshold", 0.8, "template match threshold in [0,1]")
	fs.BoolVar(&cfg.MatchFlipped, "match_flipped", false, "also match a horizontally flipped snout")

	fs.StringVar(&cfg.Cascade, "cascade", "", "path to the Haar cascade XML")
	fs.StringVar(&cfg.InDirection, "in_direction", "left", "which side of the frame is \"in\": left|right")
	fs.StringVar(&cfg.MinSize, "min_size", "", "minimum head size WxH")
	fs.BoolVar(&cfg.NoMatchFail, "no_match_is_fail", false, "no head detected counts as a hard failure")
	fs.BoolVar(&cfg.EqHistogram, "eq_histogram", false, "equalize histogram before detection")
	fs.StringVar(&cfg.PreyMethod, "prey_method", "adaptive", "prey detection method: adaptive|normal")
	fs.IntVar(&cfg.PreySteps, "prey_steps", 1, "prey detection refinement steps: 1|2")

	fs.IntVar(&cfg.LockoutMethod, "lockout_method", 1, "lockout exit rule: 1|2|3")
	fs.Float64Var(&cfg.LockoutTime, "lockout", 30, "lockout duration in seconds")
	fs.IntVar(&cfg.LockoutErrorCount, "lockout_error", 0, "max_consecutive_lockout_count, 0 disables")
	fs.Float64Var(&cfg.LockoutErrorDelay, "lockout_error_delay", 3.0, "consecutive lockout window in seconds")
	fs.BoolVar(&cfg.LockoutDummy, "lockout_dummy", false, "run the lockout sequence without driving GPIO")

	fs.StringVar(&cfg.Camera, "camera", "", "camera to open: empty for the integrated camera, or a device/URL/file path for a generic one (not named on the documented CLI surface, grounded on record-videos' -camera flag)")
	fs.Float64Var(&cfg.StartupDelay, "startup_delay", 0, "seconds to wait after startup before matching")
	roi := fs.String("roi", "", "region of interest as \"X Y W H\"")
	fs.BoolVar(&cfg.AutoROI, "auto_roi", false, "auto-detect the region of interest from the backlight")
	fs.Float64Var(&cfg.AutoROIThr, "auto_roi_thr", 90, "auto ROI brightness threshold")
	fs.IntVar(&cfg.MinBacklight, "min_backlight", 10000, "minimum bright pixel area for auto ROI")
	fs.BoolVar(&cfg.SaveAutoROI, "save_auto_roi", false, "save the detected auto ROI to disk")

	fs.BoolVar(&cfg.Save, "save", false, "save match images")
	fs.BoolVar(&cfg.SaveObstruct, "save_obstruct", false, "save the obstruct image")
	fs.BoolVar(&cfg.SaveSteps, "save_steps", false, "save intermediate match step images")
	fs.Var(newStringList(&cfg.Inputs), "input", "template file to load (repeatable)")
	fs.StringVar(&cfg.OutputPath, "output_path", ".", "base output directory")
	fs.StringVar(&cfg.MatchOutputPath, "match_output_path", "", "override for match image output directory")
	fs.StringVar(&cfg.StepsOutputPath, "steps_output_path", "", "override for step image output directory")
	fs.StringVar(&cfg.ObstructOutputPath, "obstruct_output_path", "", "override for obstruct image output directory")
	fs.StringVar(&cfg.TemplateOutputPath, "template_output_path", "", "override for rendered template output directory")
	fs.BoolVar(&cfg.ZMQ, "zmq", false, "enable the ZeroMQ PUB socket")
	fs.IntVar(&cfg.ZMQPort, "zmq_port", 5556, "ZeroMQ PUB socket port")
	fs.StringVar(&cfg.ZMQIface, "zmq_iface", "*", "ZeroMQ PUB socket bind interface")
	fs.StringVar(&cfg.ZMQTransport, "zmq_transport", "tcp", "ZeroMQ PUB socket transport")

	fs.StringVar(&cfg.RfidIn, "rfid_in", "", "inner RFID reader serial device")
	fs.StringVar(&cfg.RfidOut, "rfid_out", "", "outer RFID reader serial device")
	fs.BoolVar(&cfg.RfidLock, "rfid_lock", false, "veto a successful match when both readers disallow the tag")
	fs.Float64Var(&cfg.RfidTime, "rfid_time", 5.0, "seconds after keep_open to check the RFID outcome")
	rfidAllowed := fs.String("rfid_allowed", "", "comma-separated list of allowed RFID tags")

	fs.IntVar(&cfg.LockoutGPIOPin, "lockout_gpio_pin", 0, "lockout solenoid GPIO pin number")
	fs.IntVar(&cfg.BacklightGPIOPin, "backlight_gpio_pin", 0, "backlight GPIO pin number")
	fs.BoolVar(&cfg.BacklightEnable, "backlight_enable", false, "drive the backlight GPIO pin")
	fs.StringVar(&cfg.Chuid, "chuid", "", "user to drop privileges to after GPIO init")
	fs.StringVar(&cfg.BaseTime, "base_time", "", "fixed process start time for replay testing, RFC3339")
	fs.BoolVar(&cfg.NoColor, "nocolor", false, "disable coloured log output")
	fs.BoolVar(&cfg.NoAnim, "noanim", false, "disable animated console output")

	fs.Var(newStringList(&cfg.UserVars), "uservar", "\"name cmd-or-value\" user variable (repeatable)")

	eventFlags := map[event.Name]*stringList{}
	for _, ev := range event.AllEvents {
		l := newStringList(nil)
		var dst []string
		l.values = &dst
		fs.Var(l, string(ev)+"_cmd", fmt.Sprintf("command to run on the %s event (repeatable)", ev))
		eventFlags[ev] = l
	}

	// fs.Parse has not run yet, so --no_default_config is read straight from
	// args; an explicit --config path is still loaded.
	for _, a := range args {
		switch strings.TrimLeft(a, "-") {
		case "no_default_config", "no_default_config=true", "no_default_config=1":
			cfg.NoDefaultConfig = true
		}
	}
	if !cfg.NoDefaultConfig || scanConfigPathOverride(args) != "" {
		if err := preloadConfigFile(fs, args); err != nil {
			return nil, err
		}
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if extra := fs.Args(); len(extra) != 0 {
		return nil, fmt.Errorf("config: unexpected arguments: %v", extra)
	}

	if cfg.Help || cfg.CamHelp || cfg.CmdHelp || cfg.EventHelp {
		return cfg, nil
	}
	if cfg.TemplateMatcher == cfg.HaarMatcher {
		return nil, fmt.Errorf("config: exactly one of --template_matcher or --haar_matcher is required")
	}
	if *roi != "" {
		roiVals, err := parseInts(*roi, 4)
		if err != nil {
			return nil, fmt.Errorf("config: --roi: %w", err)
		}
		cfg.ROI = [4]int{roiVals[0], roiVals[1], roiVals[2], roiVals[3]}
		cfg.HasROI = true
	}
	if cfg.HasROI && cfg.AutoROI {
		return nil, fmt.Errorf("config: --roi and --auto_roi are mutually exclusive")
	}
	if *rfidAllowed != "" {
		for _, t := range strings.Split(*rfidAllowed, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.RfidAllowed = append(cfg.RfidAllowed, t)
			}
		}
	}
	for ev, l := range eventFlags {
		if len(*l.values) > 0 {
			cfg.EventCmds[ev] = *l.values
		}
	}

	return cfg, nil
}

// preloadConfigFile loads cfg.ConfigPath (or the CLI's --config override,
// scanned ahead of the real parse) and calls fs.Set for every recognised
// key so that a later fs.Parse(args) — which only Sets flags explicitly
// present on the command line — leaves the config file's value in place
// for anything the command line doesn't override.
func preloadConfigFile(fs *flag.FlagSet, args []string) error {
	path := scanConfigPathOverride(args)
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && path == DefaultConfigPath {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}

	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return fmt.Errorf("config: parsing %q: %w", path, err)
	}
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			name := key.Name()
			if cliOnlyKeys[name] {
				return fmt.Errorf("config: %q is a CLI-only option and cannot appear in %q", name, path)
			}
			if fs.Lookup(name) == nil {
				return fmt.Errorf("config: unknown option %q in %q", name, path)
			}
			for _, v := range key.ValueWithShadows() {
				if err := fs.Set(name, v); err != nil {
					return fmt.Errorf("config: setting %q from %q: %w", name, path, err)
				}
			}
		}
	}
	return nil
}

// scanConfigPathOverride looks for "--config <path>"/"-config <path>" (or
// the "=" form) in args without fully parsing them, since the config file
// must be loaded before the flag set it feeds into is parsed for real.
func scanConfigPathOverride(args []string) string {
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		if v, ok := strings.CutPrefix(a, "config="); ok {
			return v
		}
		if a == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func parseInts(s string, n int) ([]int, error) {
	fields := strings.Fields(s)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}
