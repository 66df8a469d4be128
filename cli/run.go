package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"droidflow/engine"
)

var (
	runTransport string
	runDevice    string
)

var runCmd = &cobra.Command{
	Use:   "run <tasks.yaml>",
	Short: "Execute a task sequence",
	Long: `Run loads a YAML task sequence and executes it to completion.
Interrupt (Ctrl-C) requests a cooperative stop: the in-flight action
finishes, then the run acknowledges the stop.

Example:
  droidflow run tasks.yaml
  droidflow run tasks.yaml --device emulator-5554
  droidflow run tasks.yaml --transport agent --settings settings.yaml
`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTransport, "transport", "adb", "device transport: adb or agent")
	runCmd.Flags().StringVar(&runDevice, "device", "", "device id, overrides the settings file")
}

func runRun(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	if runDevice != "" {
		cfg.DeviceID = runDevice
	}

	transport, err := newTransport(cfg, runTransport, log)
	if err != nil {
		return err
	}

	tasks, err := engine.LoadSequence(args[0])
	if err != nil {
		return err
	}

	eng := engine.New(cfg, transport, noVision{}, log)
	if err := eng.Load(tasks); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = eng.Run(ctx, func(done, total int) {
		log.Info("progress", "done", done, "total", total)
	})

	fmt.Println(eng.Summary())
	return err
}
