package engine

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Point is a screen coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DeviceTransport is the remote command channel to the device or emulator.
// Implementations report failures as errors; the dispatcher wraps them into
// ActionError. Long presses are same-point swipes, so the interface carries
// no dedicated operation for them.
type DeviceTransport interface {
	Connect(ctx context.Context, deviceID string) error
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	Screenshot(ctx context.Context, savePath string) error
	RestartApp(ctx context.Context, packageName string) error
}

// VisionBackend performs template matching and optical text recognition over
// raster images. LocateText additionally returns the full transcript so a
// miss can be diagnosed.
type VisionBackend interface {
	LoadImage(path string) (image.Image, error)
	MatchTemplate(source, template image.Image, threshold float64) (Point, bool)
	ExtractText(img image.Image, lang string) (string, error)
	LocateText(img image.Image, target, lang string) (loc Point, found bool, transcript string)
}

// Dispatcher maps a task's type to the corresponding device/vision operation.
// It owns the mutable recognition threshold; per-task overrides go through
// withThreshold so the engine default is always restored.
type Dispatcher struct {
	device DeviceTransport
	vision VisionBackend
	vars   *Variables
	log    *slog.Logger

	workDir   string
	ocrLang   string
	threshold float64
}

func NewDispatcher(cfg Config, device DeviceTransport, vision VisionBackend, vars *Variables, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		device:    device,
		vision:    vision,
		vars:      vars,
		log:       log,
		workDir:   cfg.WorkDir,
		ocrLang:   cfg.OCRLanguage,
		threshold: cfg.ImageThreshold,
	}
}

// Threshold returns the currently effective template-match threshold.
func (d *Dispatcher) Threshold() float64 { return d.threshold }

// withThreshold applies a per-task threshold override for the duration of fn
// and restores the previous value on every exit path. An override of zero
// keeps the current threshold.
func (d *Dispatcher) withThreshold(override float64, fn func() error) error {
	prev := d.threshold
	if override > 0 {
		d.threshold = override
	}
	defer func() { d.threshold = prev }()
	return fn()
}

// action is the behavior behind one task type.
type action interface {
	run(ctx context.Context, d *Dispatcher, t *Task) error
}

// Run executes the action for a non-control task. Unrecognized types are
// logged and treated as successful, so sequences written for a newer engine
// still run.
func (d *Dispatcher) Run(ctx context.Context, t *Task) error {
	var a action
	switch t.Type {
	case TypeClick:
		a = clickAction{}
	case TypeLongPress:
		a = longPressAction{}
	case TypeScreenshot:
		a = screenshotAction{}
	case TypeWait:
		a = waitAction{}
	case TypeSetVariable:
		a = setVariableAction{}
	case TypeSwipe:
		a = swipeAction{}
	case TypeOCR:
		a = ocrAction{}
	case TypeFindAndClickOne:
		a = findAndClickOneAction{}
	case TypeRestartApp:
		a = restartAppAction{}
	case TypeLoop, TypeEndLoop:
		return fmt.Errorf("control task %q reached the dispatcher", t.Type)
	default:
		d.taskLog(t, "unknown task type, skipping", "type", t.Type)
		return nil
	}
	return a.run(ctx, d, t)
}

// taskLog emits a task-scoped log line, honoring the task's print_log flag.
func (d *Dispatcher) taskLog(t *Task, msg string, args ...any) {
	if t == nil || t.PrintLog {
		d.log.Info(msg, args...)
	}
}

// decodeParams fills a typed param struct from the task's inline parameter
// map. Input is weakly typed so "300" and 300 both satisfy an int field,
// matching what hand-edited sequence files contain in practice.
func decodeParams(t *Task, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(t.Params); err != nil {
		return &ActionError{Op: t.Type, Message: "invalid parameters", Err: err}
	}
	return nil
}

func (d *Dispatcher) tempPath(name string) string {
	return filepath.Join(d.workDir, name)
}

// captureScreen takes a fresh screenshot and loads it for recognition.
func (d *Dispatcher) captureScreen(ctx context.Context, op, tempName string) (image.Image, error) {
	path := d.tempPath(tempName)
	if err := d.device.Screenshot(ctx, path); err != nil {
		return nil, &ActionError{Op: op, Message: "screenshot for recognition failed", Err: err}
	}
	img, err := d.vision.LoadImage(path)
	if err != nil {
		return nil, &ActionError{Op: op, Message: "loading screenshot failed", Err: err}
	}
	return img, nil
}

type clickParams struct {
	X          *int    `mapstructure:"x"`
	Y          *int    `mapstructure:"y"`
	TargetText string  `mapstructure:"target_text"`
	Target     string  `mapstructure:"target"`
	Threshold  float64 `mapstructure:"threshold"`
	Lang       string  `mapstructure:"lang"`
}

type clickAction struct{}

// run resolves the click position with priority text > image > literal
// coordinates. Coordinate-only clicks skip the screenshot round-trip.
func (clickAction) run(ctx context.Context, d *Dispatcher, t *Task) error {
	var p clickParams
	if err := decodeParams(t, &p); err != nil {
		return err
	}

	hasCoords := p.X != nil && p.Y != nil
	if hasCoords && p.TargetText == "" && p.Target == "" {
		d.taskLog(t, "tapping literal coordinates", "x", *p.X, "y", *p.Y)
		if err := d.device.Tap(ctx, *p.X, *p.Y); err != nil {
			return &ActionError{Op: TypeClick, Message: fmt.Sprintf("tap (%d, %d) failed", *p.X, *p.Y), Err: err}
		}
		return nil
	}

	source, err := d.captureScreen(ctx, TypeClick, "temp_screen_click.png")
	if err != nil {
		return err
	}

	var pos Point
	switch {
	case p.TargetText != "":
		lang := p.Lang
		if lang == "" {
			lang = d.ocrLang
		}
		d.taskLog(t, "locating text target", "text", p.TargetText, "lang", lang)
		loc, found, transcript := d.vision.LocateText(source, p.TargetText, lang)
		if !found {
			detail := "no text recognized"
			if transcript != "" {
				detail = fmt.Sprintf("recognized text: %q", transcript)
			}
			return &ActionError{Op: TypeClick, Message: fmt.Sprintf("text %q not found; %s", p.TargetText, detail)}
		}
		pos = loc

	case p.Target != "":
		d.taskLog(t, "matching image target", "template", p.Target)
		template, err := d.vision.LoadImage(p.Target)
		if err != nil {
			return &ActionError{Op: TypeClick, Message: fmt.Sprintf("loading template %q failed", p.Target), Err: err}
		}
		var found bool
		err = d.withThreshold(p.Threshold, func() error {
			pos, found = d.vision.MatchTemplate(source, template, d.threshold)
			if !found {
				return &ActionError{Op: TypeClick, Message: fmt.Sprintf("image %q not found (threshold %g)", p.Target, d.threshold)}
			}
			return nil
		})
		if err != nil {
			return err
		}

	case hasCoords:
		pos = Point{X: *p.X, Y: *p.Y}

	default:
		return &ActionError{Op: TypeClick, Message: "no click target (text/image/coordinates)"}
	}

	d.taskLog(t, "tapping resolved position", "x", pos.X, "y", pos.Y)
	if err := d.device.Tap(ctx, pos.X, pos.Y); err != nil {
		return &ActionError{Op: TypeClick, Message: fmt.Sprintf("tap (%d, %d) failed", pos.X, pos.Y), Err: err}
	}
	return nil
}

type findAndClickOneParams struct {
	Targets   []string `mapstructure:"targets"`
	JudgeOnly bool     `mapstructure:"judge_only"`
	Threshold float64  `mapstructure:"threshold"`
}

type findAndClickOneAction struct{}

// run takes one screenshot and tries each target in order, clicking the
// first match unless judge_only is set. A target whose template fails to
// load is skipped with a warning.
func (findAndClickOneAction) run(ctx context.Context, d *Dispatcher, t *Task) error {
	var p findAndClickOneParams
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	if len(p.Targets) == 0 {
		return &ActionError{Op: TypeFindAndClickOne, Message: "requires a non-empty 'targets' list"}
	}

	source, err := d.captureScreen(ctx, TypeFindAndClickOne, "temp_screen_find_one.png")
	if err != nil {
		return err
	}

	return d.withThreshold(p.Threshold, func() error {
		for _, target := range p.Targets {
			template, err := d.vision.LoadImage(target)
			if err != nil {
				d.log.Warn("skipping unloadable target", "template", target, "error", err)
				continue
			}

			pos, found := d.vision.MatchTemplate(source, template, d.threshold)
			if !found {
				continue
			}
			d.taskLog(t, "target matched", "template", target, "x", pos.X, "y", pos.Y)

			if p.JudgeOnly {
				d.taskLog(t, "judge_only set, skipping tap")
				return nil
			}
			if err := d.device.Tap(ctx, pos.X, pos.Y); err != nil {
				return &ActionError{Op: TypeFindAndClickOne, Message: fmt.Sprintf("tap on %q failed", target), Err: err}
			}
			return nil
		}
		return &ActionError{Op: TypeFindAndClickOne, Message: fmt.Sprintf("no target matched (threshold %g)", d.threshold)}
	})
}

type screenshotParams struct {
	SavePath string `mapstructure:"save_path"`
}

type screenshotAction struct{}

func (screenshotAction) run(ctx context.Context, d *Dispatcher, t *Task) error {
	var p screenshotParams
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	if p.SavePath == "" {
		return &ActionError{Op: TypeScreenshot, Message: "missing 'save_path' parameter"}
	}
	if err := d.device.Screenshot(ctx, p.SavePath); err != nil {
		return &ActionError{Op: TypeScreenshot, Message: "screenshot failed", Err: err}
	}
	return nil
}

type ocrParams struct {
	VariableName string `mapstructure:"variable_name"`
	Lang         string `mapstructure:"lang"`
}

type ocrAction struct{}

// run extracts screen text into the named variable. Absent text is routine,
// not exceptional: a failed or empty extraction stores "".
func (ocrAction) run(ctx context.Context, d *Dispatcher, t *Task) error {
	var p ocrParams
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	if p.VariableName == "" {
		return &ActionError{Op: TypeOCR, Message: "missing 'variable_name' parameter"}
	}

	source, err := d.captureScreen(ctx, TypeOCR, "temp_screen_ocr.png")
	if err != nil {
		return err
	}

	lang := p.Lang
	if lang == "" {
		lang = d.ocrLang
	}
	text, err := d.vision.ExtractText(source, lang)
	if err != nil {
		d.taskLog(t, "ocr extracted no text", "lang", lang, "error", err)
		text = ""
	}

	d.vars.Set(p.VariableName, strings.TrimSpace(text))
	d.taskLog(t, "ocr result stored", "variable", p.VariableName)
	return nil
}

type waitParams struct {
	Duration float64 `mapstructure:"duration"`
}

type waitAction struct{}

func (waitAction) run(_ context.Context, d *Dispatcher, t *Task) error {
	p := waitParams{Duration: 1}
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	time.Sleep(time.Duration(p.Duration * float64(time.Second)))
	return nil
}

type setVariableParams struct {
	Name  string `mapstructure:"name"`
	Value any    `mapstructure:"value"`
}

type setVariableAction struct{}

func (setVariableAction) run(_ context.Context, d *Dispatcher, t *Task) error {
	var p setVariableParams
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	if p.Name == "" {
		return &ActionError{Op: TypeSetVariable, Message: "missing 'name' parameter"}
	}
	if _, ok := t.Params["value"]; !ok {
		return &ActionError{Op: TypeSetVariable, Message: "missing 'value' parameter"}
	}

	value := d.vars.Parse(p.Value)

	// print_log on a set_variable task opts the variable into watch logging.
	if t.PrintLog {
		d.vars.Watch(p.Name)
	}

	d.taskLog(t, "setting variable", "name", p.Name, "value", value)
	d.vars.Set(p.Name, value)
	return nil
}

type swipeParams struct {
	X1       *int `mapstructure:"x1"`
	Y1       *int `mapstructure:"y1"`
	X2       *int `mapstructure:"x2"`
	Y2       *int `mapstructure:"y2"`
	Duration int  `mapstructure:"duration"`
}

type swipeAction struct{}

func (swipeAction) run(ctx context.Context, d *Dispatcher, t *Task) error {
	p := swipeParams{Duration: 300}
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	if p.X1 == nil || p.Y1 == nil || p.X2 == nil || p.Y2 == nil {
		return &ActionError{Op: TypeSwipe, Message: "missing swipe coordinates"}
	}
	if err := d.device.Swipe(ctx, *p.X1, *p.Y1, *p.X2, *p.Y2, p.Duration); err != nil {
		return &ActionError{Op: TypeSwipe, Message: "swipe failed", Err: err}
	}
	return nil
}

type longPressParams struct {
	X        *int `mapstructure:"x"`
	Y        *int `mapstructure:"y"`
	Duration int  `mapstructure:"duration"`
}

type longPressAction struct{}

// run performs a long press as a same-point swipe.
func (longPressAction) run(ctx context.Context, d *Dispatcher, t *Task) error {
	p := longPressParams{Duration: 1000}
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	if p.X == nil || p.Y == nil {
		return &ActionError{Op: TypeLongPress, Message: "missing x or y coordinate"}
	}
	d.taskLog(t, "long pressing", "x", *p.X, "y", *p.Y, "duration_ms", p.Duration)
	if err := d.device.Swipe(ctx, *p.X, *p.Y, *p.X, *p.Y, p.Duration); err != nil {
		return &ActionError{Op: TypeLongPress, Message: fmt.Sprintf("long press (%d, %d) failed", *p.X, *p.Y), Err: err}
	}
	return nil
}

type restartAppParams struct {
	PackageName string `mapstructure:"package_name"`
}

type restartAppAction struct{}

func (restartAppAction) run(ctx context.Context, d *Dispatcher, t *Task) error {
	var p restartAppParams
	if err := decodeParams(t, &p); err != nil {
		return err
	}
	if p.PackageName == "" {
		return &ActionError{Op: TypeRestartApp, Message: "missing 'package_name' parameter"}
	}
	d.taskLog(t, "restarting app", "package", p.PackageName)
	if err := d.device.RestartApp(ctx, p.PackageName); err != nil {
		return &ActionError{Op: TypeRestartApp, Message: fmt.Sprintf("restarting %q failed", p.PackageName), Err: err}
	}
	return nil
}
