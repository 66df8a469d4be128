package cli

import (
	"github.com/spf13/cobra"

	"droidflow/api"
	"droidflow/engine"
)

var (
	serveAddr      string
	serveTransport string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP control surface",
	Long: `Serve starts an HTTP server exposing run control: load a sequence,
start and stop runs, read status, variables, and the run summary.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveTransport, "transport", "adb", "device transport: adb or agent")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	transport, err := newTransport(cfg, serveTransport, log)
	if err != nil {
		return err
	}

	eng := engine.New(cfg, transport, noVision{}, log)
	srv := api.NewServer(eng, log)

	log.Info("control surface listening", "addr", serveAddr)
	return srv.Router().Run(serveAddr)
}
