// Package cli wires the droidflow commands: run a task sequence, validate
// its structure, or serve the HTTP control surface.
package cli

import (
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"droidflow/device"
	"droidflow/engine"
)

var settingsPath string

var rootCmd = &cobra.Command{
	Use:   "droidflow",
	Short: "droidflow - declarative device automation engine",
	Long: `droidflow executes declarative task sequences (tap, swipe, OCR,
template matching, loops) against an Android device or emulator.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "path to a YAML settings file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func loadSettings() (engine.Config, error) {
	if settingsPath == "" {
		return engine.DefaultConfig(), nil
	}
	return engine.LoadConfig(settingsPath)
}

func newTransport(cfg engine.Config, transport string, log *slog.Logger) (engine.DeviceTransport, error) {
	switch transport {
	case "adb":
		return device.NewADB(cfg.AdbPath, log), nil
	case "agent":
		if cfg.AgentURL == "" {
			return nil, fmt.Errorf("agent transport selected but agent_url is not configured")
		}
		return device.NewAgent(cfg.AgentURL, log), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want adb or agent)", transport)
	}
}

// noVision stands in when no vision backend is wired up. Recognition tasks
// fail with a clear message instead of a nil dereference; plain taps, swipes
// and screenshots still work.
type noVision struct{}

func (noVision) LoadImage(path string) (image.Image, error) {
	return nil, fmt.Errorf("no vision backend configured")
}

func (noVision) MatchTemplate(_, _ image.Image, _ float64) (engine.Point, bool) {
	return engine.Point{}, false
}

func (noVision) ExtractText(_ image.Image, _ string) (string, error) {
	return "", fmt.Errorf("no vision backend configured")
}

func (noVision) LocateText(_ image.Image, _, _ string) (engine.Point, bool, string) {
	return engine.Point{}, false, ""
}
