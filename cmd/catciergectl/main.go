// catciergectl is a one-shot companion to catcierged: grab a single test
// frame to a PNG, list the GPIO pins periph can see, or force-fire an
// event's templates/commands against the running daemon's output
// directory. Structured like lepton's cmd/lepton-grab and cmd/lepton-query:
// one flat flag set, a mainImpl() error, a thin main().
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gocv.io/x/gocv"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/catcierge/catcierge/internal/event"
)

func mainImpl() error {
	testFrame := flag.String("test-frame", "", "camera device/path to grab a single frame from, saved to the argument of -o")
	out := flag.String("o", "frame.png", "output path for -test-frame")
	listGPIO := flag.Bool("list-gpio", false, "list every GPIO pin periph can see and exit")
	sendEvent := flag.String("send-event", "", "render one event's templates/commands against a directory, bypassing the FSM")
	inputs := stringListFlag{}
	flag.Var(&inputs, "input", "template file to load for -send-event (repeatable)")
	flag.Parse()

	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}

	switch {
	case *listGPIO:
		return runListGPIO()
	case *testFrame != "":
		return runTestFrame(*testFrame, *out)
	case *sendEvent != "":
		return runSendEvent(event.Name(*sendEvent), []string(inputs))
	default:
		return errors.New("one of -test-frame, -list-gpio, or -send-event is required")
	}
}

func runListGPIO() error {
	if _, err := host.Init(); err != nil {
		return err
	}
	for _, p := range gpioreg.All() {
		fmt.Printf("%-12s %s\n", p.Name(), p.Function())
	}
	return nil
}

func runTestFrame(device, out string) error {
	cap, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("catciergectl: opening %q: %w", device, err)
	}
	defer cap.Close()

	m := gocv.NewMat()
	defer m.Close()
	if ok := cap.Read(&m); !ok || m.Empty() {
		return fmt.Errorf("catciergectl: reading a frame from %q failed", device)
	}
	if ok := gocv.IMWrite(out, m); !ok {
		return fmt.Errorf("catciergectl: writing %q failed", out)
	}
	fmt.Printf("saved %dx%d frame to %s\n", m.Cols(), m.Rows(), out)
	return nil
}

// runSendEvent loads the given templates and fires ev against an empty
// snapshot, useful for checking a template renders without syntax errors
// before deploying it, without needing the FSM or a camera running.
func runSendEvent(ev event.Name, inputs []string) error {
	ctx := event.NewContext(nil)
	engine := event.NewEngine(ctx, nil, nil)
	for _, path := range inputs {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		def, err := event.ParseTemplateDefinition(string(data))
		if err != nil {
			return fmt.Errorf("catciergectl: %q: %w", path, err)
		}
		if err := engine.AddTemplate(def); err != nil {
			return fmt.Errorf("catciergectl: %q: %w", path, err)
		}
	}
	return engine.Trigger(ev, event.Snapshot{Group: event.GroupSnapshot{CurrentIdx: -1}})
}

// stringListFlag implements flag.Value for a repeatable -input option.
type stringListFlag []string

func (s *stringListFlag) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "catciergectl: %s\n", err)
		os.Exit(1)
	}
}
