package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	app := NewApp()
	root := rootCMD(app)
	err := root.ExecuteContext(context.Background())
	app.shutdown(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCMD(app *App) *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)
	root := &cobra.Command{
		Use:           "deepresearch",
		Short:         "Iterative multi-tier research with Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.startup(cmd.Context(), configPath, metricsAddr)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./config.yaml or the user config dir)")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	root.AddCommand(
		queryCMD(app),
		answerCMD(app),
		planCMD(app),
		runCMD(app),
		reportCMD(app),
		autoCMD(app),
		statusCMD(app),
		resetCMD(app),
		fileCMD(app),
		settingsCMD(app),
		tonesCMD(app),
		keyCMD(app),
		modelsCMD(app),
	)
	return root
}
