// catcierged is the long-lived daemon: it drives a camera, a matcher, the
// match-group FSM, optional RFID and GPIO, and the template/event engine.
// Structured like lepton/cmd/lepton/main.go: a mainImpl() error function
// doing all the real work, and a thin main() that reports its error and
// sets the exit code.
package main

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/catcierge/catcierge/internal/cmdrunner"
	"github.com/catcierge/catcierge/internal/config"
	"github.com/catcierge/catcierge/internal/confwatch"
	"github.com/catcierge/catcierge/internal/event"
	"github.com/catcierge/catcierge/internal/frame"
	"github.com/catcierge/catcierge/internal/fsm"
	"github.com/catcierge/catcierge/internal/gpioctl"
	"github.com/catcierge/catcierge/internal/lifecycle"
	"github.com/catcierge/catcierge/internal/matcher"
	"github.com/catcierge/catcierge/internal/pubsub"
	"github.com/catcierge/catcierge/internal/rfid"
	"github.com/catcierge/catcierge/internal/statusweb"
)

func setupLogging(noColor bool) {
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level: slog.LevelInfo,
		TimeFormat: time.TimeOnly,
		NoColor: noColor || !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)
}

func mainImpl() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	setupLogging(cfg.NoColor)

	if handled, err := runHelp(cfg); handled {
		return err
	}

	if cfg.PIDFile != "" {
		closer, err := lifecycle.WritePIDFile(cfg.PIDFile)
		if err != nil {
			return err
		}
		defer closer.Close()
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("catcierged: periph host init: %w", err)
	}

	lock, backlight, err := setupGPIO(cfg)
	if err != nil {
		return err
	}

	src, err := setupCamera(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	m, matcherName, err := setupMatcher(cfg)
	if err != nil {
		return err
	}

	paths := setupPaths(cfg)
	if err := os.MkdirAll(paths.Output, 0o755); err != nil {
		return fmt.Errorf("catcierged: creating output directory: %w", err)
	}

	pub, closePub, err := setupPubSub(cfg)
	if err != nil {
		return err
	}
	defer closePub()

	engine, err := setupEngine(cfg, pub)
	if err != nil {
		return err
	}

	machine := fsm.New(setupFSMConfig(cfg), matcherName, m, lock, engine, paths)

	var pair *rfid.Pair
	if cfg.RfidIn != "" && cfg.RfidOut != "" {
		pair, err = setupRFID(cfg)
		if err != nil {
			return err
		}
		machine.SetRFID(pair)
	}

	lifecycle.HandleSignals(machine, lifecycle.DefaultSigusrTable())

	if err := lifecycle.Startup(time.Duration(cfg.StartupDelay*float64(time.Second)), backlight); err != nil {
		return err
	}

	if err := lifecycle.DropPrivileges(cfg.Chuid); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return runLoop(ctx, src, machine) })

	if cfg.StatusAddr != "" {
		web := statusweb.New(cfg.StatusAddr, paths.Output, pub.hub)
		eg.Go(web.ListenAndServe)
	}

	if watcher, err := setupConfWatch(cfg); err == nil && watcher != nil {
		eg.Go(func() error { return watcher.Run(ctx.Done()) })
		defer watcher.Close()
	}

	return eg.Wait()
}

// runLoop is the single-threaded cooperative scheduler: one loop, blocking
// operations happen inline, nothing but the signal handlers touches shared
// state concurrently.
func runLoop(ctx context.Context, src frame.Source, machine *fsm.Machine) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		fr, err := src.Acquire()
		if err != nil {
			return fmt.Errorf("catcierged: acquiring frame: %w", err)
		}
		now := time.Now()
		err = machine.Step(fr, now)
		fr.Close()
		if err != nil {
			slog.Error("fsm step failed", "err", err)
		}
		if machine.StopRequested() {
			return nil
		}
	}
}

func runHelp(cfg *config.Config) (handled bool, err error) {
	switch {
	case cfg.Help:
		fmt.Fprintln(os.Stdout, "catcierged: see README / the full flag reference.")
		return true, nil
	case cfg.CamHelp:
		fmt.Fprintln(os.Stdout, "camera/matcher options: --template_matcher|--haar_matcher, --snout, --threshold, --cascade, --in_direction, --min_size, --roi, --auto_roi.")
		return true, nil
	case cfg.CmdHelp:
		fmt.Fprintln(os.Stdout, "per-event commands: --<event>_cmd \"<cmd>\" (repeatable), --uservar \"name cmd-or-value\" (repeatable).")
		return true, nil
	case cfg.EventHelp:
		for _, ev := range event.AllEvents {
			fmt.Fprintln(os.Stdout, ev)
		}
		return true, nil
	}
	return false, nil
}

func setupGPIO(cfg *config.Config) (*gpioctl.Lock, *gpioctl.Backlight, error) {
	lockPin := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.LockoutGPIOPin))
	if lockPin == nil {
		return nil, nil, fmt.Errorf("catcierged: lockout GPIO pin %d not found", cfg.LockoutGPIOPin)
	}
	lock := gpioctl.NewLock(lockPin, false)

	var backlight *gpioctl.Backlight
	if cfg.BacklightEnable {
		blPin := gpioreg.ByName(fmt.Sprintf("GPIO%d", cfg.BacklightGPIOPin))
		if blPin == nil {
			return nil, nil, fmt.Errorf("catcierged: backlight GPIO pin %d not found", cfg.BacklightGPIOPin)
		}
		backlight = gpioctl.NewBacklight(blPin)
	} else {
		backlight = gpioctl.NewBacklight(nil)
	}
	return lock, backlight, nil
}

func setupCamera(cfg *config.Config) (frame.Source, error) {
	fcfg := frame.DefaultConfig()
	if cfg.HasROI {
		fcfg.ROI = image.Rect(cfg.ROI[0], cfg.ROI[1], cfg.ROI[0]+cfg.ROI[2], cfg.ROI[1]+cfg.ROI[3])
	}
	fcfg.AutoROI = cfg.AutoROI
	fcfg.AutoROIThr = float32(cfg.AutoROIThr)
	fcfg.MinBacklight = cfg.MinBacklight
	if err := fcfg.Validate(); err != nil {
		return nil, err
	}

	var src frame.Source
	var err error
	if cfg.Camera == "" {
		src, err = frame.NewIntegratedCamera(0, fcfg)
	} else {
		src, err = frame.NewGenericCamera(cfg.Camera, fcfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.AutoROI {
		rect, err := frame.DetectAutoROI(src, time.Duration(cfg.StartupDelay*float64(time.Second)), fcfg)
		if err != nil {
			src.Close()
			return nil, err
		}
		if setter, ok := src.(interface{ SetROI(image.Rectangle) }); ok {
			setter.SetROI(rect)
		}
	}
	return src, nil
}

func setupMatcher(cfg *config.Config) (matcher.Matcher, string, error) {
	if cfg.TemplateMatcher {
		m, err := matcher.NewTemplate(cfg.Snouts, cfg.Threshold, cfg.MatchFlipped)
		return m, "template", err
	}
	dir := matcher.InDirectionLeft
	if cfg.InDirection == "right" {
		dir = matcher.InDirectionRight
	}
	preyMethod := matcher.PreyMethodAdaptive
	if cfg.PreyMethod == "normal" {
		preyMethod = matcher.PreyMethodNormal
	}
	minW, minH := parseMinSize(cfg.MinSize)
	m, err := matcher.NewHaar(matcher.HaarConfig{
		CascadePath: cfg.Cascade,
		InDirection: dir,
		MinWidth: minW,
		MinHeight: minH,
		EqHistogram: cfg.EqHistogram,
		NoMatchIsFail: cfg.NoMatchFail,
		PreyMethod: preyMethod,
		PreySteps: cfg.PreySteps,
	})
	return m, "haar", err
}

func parseMinSize(s string) (int, int) {
	var w, h int
	if _, err := fmt.Sscanf(s, "%dx%d", &w, &h); err != nil {
		return 0, 0
	}
	return w, h
}

func setupPaths(cfg *config.Config) event.Paths {
	resolve := func(override string) string {
		if override == "" {
			return cfg.OutputPath
		}
		return override
	}
	return event.Paths{
		Output: cfg.OutputPath,
		MatchOutput: resolve(cfg.MatchOutputPath),
		StepsOutput: resolve(cfg.StepsOutputPath),
		ObstructOutput: resolve(cfg.ObstructOutputPath),
		TemplateOutput: resolve(cfg.TemplateOutputPath),
	}
}

// publisher wraps pubsub.Multi plus the websocket hub, so main can hand the
// hub to statusweb separately from the event.Publisher interface the
// engine consumes.
type publisher struct {
	pubsub.Multi
	hub *pubsub.WSHub
}

func setupPubSub(cfg *config.Config) (*publisher, func(), error) {
	hub := pubsub.NewWSHub(0)
	multi := pubsub.Multi{hub}
	closers := []func() error{}

	if cfg.ZMQ {
		zp, err := pubsub.NewZMQPublisher(pubsub.ZMQConfig{Port: cfg.ZMQPort, Iface: cfg.ZMQIface, Transport: cfg.ZMQTransport})
		if err != nil {
			return nil, nil, err
		}
		multi = append(multi, zp)
		closers = append(closers, zp.Close)
	}

	return &publisher{Multi: multi, hub: hub}, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Error("closing publisher", "err", err)
			}
		}
	}, nil
}

func setupEngine(cfg *config.Config, pub event.Publisher) (*event.Engine, error) {
	ctx := event.NewContext(func(cmdLine string) (string, error) {
		return cmdrunner.Capture(cmdLine, 5*time.Second)
	})
	for _, raw := range cfg.UserVars {
		v, err := parseUserVar(raw)
		if err != nil {
			return nil, err
		}
		ctx.SetUserVar(v)
	}

	engine := event.NewEngine(ctx, pub, cmdrunner.Run)

	for _, path := range cfg.Inputs {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catcierged: reading template %q: %w", path, err)
		}
		def, err := event.ParseTemplateDefinition(string(data))
		if err != nil {
			return nil, fmt.Errorf("catcierged: %q: %w", path, err)
		}
		if def.Settings.RootPath == "" {
			def.Settings.RootPath = filepath.Dir(path)
		}
		if err := engine.AddTemplate(def); err != nil {
			return nil, fmt.Errorf("catcierged: %q: %w", path, err)
		}
	}

	for ev, cmds := range cfg.EventCmds {
		for _, raw := range cmds {
			c, err := event.ParseEventCommand(ev, raw)
			if err != nil {
				return nil, err
			}
			engine.AddCommand(c)
		}
	}

	return engine, nil
}

func parseUserVar(raw string) (event.UserVar, error) {
	name, rest, ok := cutField(raw)
	if !ok {
		return event.UserVar{}, fmt.Errorf("catcierged: --uservar %q: expected \"name value\"", raw)
	}
	isCommand := len(rest) > 1 && rest[0] == '`' && rest[len(rest)-1] == '`'
	if isCommand {
		rest = rest[1 : len(rest)-1]
	}
	return event.UserVar{Name: name, Value: rest, IsCommand: isCommand}, nil
}

func cutField(s string) (first, rest string, ok bool) {
	for i, r := range s {
		if r == ' ' || r == '\t' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func setupFSMConfig(cfg *config.Config) fsm.Config {
	return fsm.Config{
		MatchMaxCount: fsm.DefaultMatchMaxCount,
		OkMatchesNeeded: cfg.OkMatchesNeeded,
		NoFinalDecision: cfg.NoFinalDecision,
		MatchTime: time.Duration(cfg.MatchTime * float64(time.Second)),
		LockoutTime: time.Duration(cfg.LockoutTime * float64(time.Second)),
		LockoutMethod: fsm.LockoutMethod(cfg.LockoutMethod),
		MaxConsecutiveLockoutCount: cfg.LockoutErrorCount,
		ConsecutiveLockoutDelay: time.Duration(cfg.LockoutErrorDelay * float64(time.Second)),
		RfidLockTime: time.Duration(cfg.RfidTime * float64(time.Second)),
		OutputDir: cfg.OutputPath,
		Save: cfg.Save,
		SaveObstruct: cfg.SaveObstruct,
		SaveSteps: cfg.SaveSteps,
	}
}

func setupRFID(cfg *config.Config) (*rfid.Pair, error) {
	allowed := make([][]byte, 0, len(cfg.RfidAllowed))
	for _, tag := range cfg.RfidAllowed {
		allowed = append(allowed, []byte(tag))
	}
	inner, err := rfid.Open("inner", cfg.RfidIn, nil)
	if err != nil {
		return nil, err
	}
	outer, err := rfid.Open("outer", cfg.RfidOut, nil)
	if err != nil {
		inner.Close()
		return nil, err
	}
	return rfid.NewPair(inner, outer, allowed), nil
}

func setupConfWatch(cfg *config.Config) (*confwatch.Watcher, error) {
	files := append([]string{cfg.ConfigPath}, cfg.Inputs...)
	return confwatch.New(files, func(path string) {
		slog.Info("config/template changed, restart to apply", "path", path)
	})
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "catcierged: %s\n", err)
		os.Exit(1)
	}
}
