package main

import (
	"fmt"
	"os"

	"github.com/aretw0/tendril/internal/cli"
	"github.com/spf13/cobra"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay [script]",
	Short: "Replay a scripted pipeline run and trace it",
	Long: `Replays a YAML run script through the observer, prints the resulting
span tree and records the run's trace identifiers. Exporters, sampling and the
trace store are configured with flags, so the same script can print to the
terminal or feed a real collector.`,
	Run: func(cmd *cobra.Command, args []string) {
		scriptPath, _ := cmd.Flags().GetString("script")
		if !cmd.Flags().Changed("script") && len(args) > 0 {
			scriptPath = args[0]
		}
		if scriptPath == "" {
			fmt.Println("Error: a script path is required, either as an argument or with --script.")
			os.Exit(1)
		}

		serviceName, _ := cmd.Flags().GetString("service-name")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		insecure, _ := cmd.Flags().GetBool("insecure")
		tracesExporter, _ := cmd.Flags().GetString("traces-exporter")
		metricsExporter, _ := cmd.Flags().GetString("metrics-exporter")
		sampler, _ := cmd.Flags().GetString("sampler")
		samplerArg, _ := cmd.Flags().GetString("sampler-arg")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		redisAddr, _ := cmd.Flags().GetString("redis")
		storeDir, _ := cmd.Flags().GetString("store-dir")
		logLevel, _ := cmd.Flags().GetString("log-level")
		mermaid, _ := cmd.Flags().GetBool("mermaid")
		hold, _ := cmd.Flags().GetBool("hold")

		opts := cli.ReplayOptions{
			ScriptPath:      scriptPath,
			ServiceName:     serviceName,
			Endpoint:        endpoint,
			Insecure:        insecure,
			TracesExporter:  tracesExporter,
			MetricsExporter: metricsExporter,
			Sampler:         sampler,
			SamplerArg:      samplerArg,
			MetricsAddr:     metricsAddr,
			RedisAddr:       redisAddr,
			StoreDir:        storeDir,
			LogLevel:        logLevel,
			Mermaid:         mermaid,
			Hold:            hold,
		}

		if err := cli.Execute(opts); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().String("script", "", "Path to the run script (alternative to the positional argument)")
	replayCmd.Flags().String("service-name", "", "Service name reported on every span and metric")
	replayCmd.Flags().String("endpoint", "", "OTLP endpoint, e.g. http://localhost:4317")
	replayCmd.Flags().Bool("insecure", false, "Use plain gRPC for the OTLP endpoint")
	replayCmd.Flags().String("traces-exporter", "none", "Traces exporter (otlp, console, none)")
	replayCmd.Flags().String("metrics-exporter", "none", "Metrics exporter (otlp, prometheus, none)")
	replayCmd.Flags().String("sampler", "", "Trace sampler (always_on, always_off, traceidratio, parentbased_*)")
	replayCmd.Flags().String("sampler-arg", "", "Sampler argument, e.g. the ratio for traceidratio")
	replayCmd.Flags().String("metrics-addr", "", "Address for the metrics/health HTTP server, e.g. :8080")
	replayCmd.Flags().String("redis", "", "Redis address for the trace store; empty keeps it in memory")
	replayCmd.Flags().String("store-dir", "", "Directory for a file-backed trace store (ignored when --redis is set)")
	replayCmd.Flags().Bool("mermaid", false, "Print the span tree as a Mermaid flowchart instead of the text tree")
	replayCmd.Flags().BoolP("hold", "H", false, "Keep serving metrics after the run until interrupted")
}
