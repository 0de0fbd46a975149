package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/anser/internal/config"
	"firestige.xyz/anser/internal/log"
	"firestige.xyz/anser/internal/metrics"
	"firestige.xyz/anser/internal/stack"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Bring the stack up on the configured interfaces",
	Long: `
Start the Anser stack daemon.

Examples:
  anser start                 # Start with the default config path
  anser start -c config.yml   # Start with an explicit config file
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("loading configuration failed", err)
		}
		log.Init(cfg.Log)
		logger := log.GetLogger()

		s, err := stack.New(cfg)
		if err != nil {
			exitWithError("stack construction failed", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx)
		logger.Info("stack started")

		if cfg.Metrics.Enabled {
			go metrics.Serve(ctx, cfg.Metrics.Listen)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
		s.Close()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
