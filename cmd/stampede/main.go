// Package main is the entry point for the Stampede CLI
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/su1ph3r/stampede/internal/collector"
	"github.com/su1ph3r/stampede/internal/detector"
	"github.com/su1ph3r/stampede/internal/logger"
	"github.com/su1ph3r/stampede/internal/parser"
	"github.com/su1ph3r/stampede/internal/replay"
	"github.com/su1ph3r/stampede/internal/template"
	"github.com/su1ph3r/stampede/internal/workflow"
	"github.com/su1ph3r/stampede/pkg/types"
)

var (
	version = "1.0.0"
	cfgFile string
	config  *types.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stampede",
	Short: "Stampede - HTTP Race Condition Exploitation Engine",
	Long: `Stampede dispatches many near-simultaneous copies of HTTP requests against
a target to surface time-of-check/time-of-use defects: quota bypass,
double-spend, lost updates, and multi-step workflow races.

Requests are held at a synchronization barrier and released together,
minimizing the skew between first-byte-sent times across workers.`,
	Version: version,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Race N copies of a single request",
	Long: `Replay reads a raw HTTP request (as pasted from an intercepting proxy),
substitutes placeholder tokens per instance, and dispatches all copies
under the selected timing mode.`,
	RunE: runReplay,
}

var workflowCmd = &cobra.Command{
	Use:   "workflow [file]",
	Short: "Race a multi-step workflow definition",
	Long: `Workflow executes a YAML-defined graph of request steps. Steps may depend
on earlier steps, consume values captured from their responses, and be
released together from a shared barrier to collide distinct operations.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stampede.yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	replayCmd.Flags().StringP("request", "r", "", "Raw HTTP request file (required)")
	replayCmd.Flags().StringP("mode", "m", "burst", "Timing mode (burst, wave, random)")
	replayCmd.Flags().IntP("concurrency", "c", 10, "Concurrent workers (1-1000)")
	replayCmd.Flags().IntP("requests", "n", 10, "Total requests to send")
	replayCmd.Flags().Duration("micro-delay", 0, "Pause inserted after barrier release, before each send")
	replayCmd.Flags().Int("wave-size", 10, "Requests per wave (wave mode)")
	replayCmd.Flags().Duration("wave-delay", 100*time.Millisecond, "Pause between waves (wave mode)")
	replayCmd.Flags().Duration("random-window", 500*time.Millisecond, "Send window (random mode)")
	replayCmd.Flags().Duration("timeout", 30*time.Second, "Per-request timeout")
	replayCmd.Flags().Float64("rate-limit", 0, "Requests per second cap (0 = unlimited)")
	replayCmd.Flags().String("proxy", "", "HTTP proxy URL")
	replayCmd.Flags().Bool("verify-ssl", false, "Verify TLS certificates")
	replayCmd.Flags().StringToString("wordlist", map[string]string{}, "Token wordlists as token=path pairs")
	replayCmd.Flags().StringP("output", "o", "", "Write the full JSON report to this file")
	replayCmd.Flags().Bool("verbose", false, "Print every outcome")

	workflowCmd.Flags().StringToString("wordlist", map[string]string{}, "Token wordlists as token=path pairs")
	workflowCmd.Flags().StringP("output", "o", "", "Write the full JSON report to this file")
	workflowCmd.Flags().Bool("verbose", false, "Print every outcome")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(workflowCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".stampede")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("STAMPEDE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	_ = viper.ReadInConfig()

	config = types.DefaultConfig()
	_ = viper.Unmarshal(config)
}

// interruptibleContext cancels on SIGINT/SIGTERM so in-flight sends finish
// on their own timeouts while no new slots start.
func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		printWarning("\nInterrupted, finishing in-flight requests...")
		cancel()
	}()

	return ctx, cancel
}

func buildLogger(cmd *cobra.Command) logger.Logger {
	settings := config.Log
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		settings.Level = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		settings.JSON = true
	}
	return logger.New(settings)
}

func loadWordlists(cmd *cobra.Command) (map[string][]string, error) {
	paths, _ := cmd.Flags().GetStringToString("wordlist")
	if len(paths) == 0 {
		return nil, nil
	}

	wordlists := make(map[string][]string, len(paths))
	for token, path := range paths {
		values, err := parser.LoadWordlist(path)
		if err != nil {
			return nil, fmt.Errorf("wordlist %s: %w", token, err)
		}
		printInfo("Loaded wordlist %s: %d entries", token, len(values))
		wordlists[token] = values
	}
	return wordlists, nil
}

// replayConfigFromFlags starts from the file/env configuration and applies
// every flag the user set explicitly.
func replayConfigFromFlags(cmd *cobra.Command) types.RunConfig {
	cfg := config.Run

	if cmd.Flags().Changed("mode") {
		v, _ := cmd.Flags().GetString("mode")
		cfg.Mode = types.Mode(v)
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("requests") {
		cfg.TotalRequests, _ = cmd.Flags().GetInt("requests")
	}
	if cmd.Flags().Changed("micro-delay") {
		cfg.MicroDelay, _ = cmd.Flags().GetDuration("micro-delay")
	}
	if cmd.Flags().Changed("wave-size") {
		cfg.WaveSize, _ = cmd.Flags().GetInt("wave-size")
	}
	if cmd.Flags().Changed("wave-delay") {
		cfg.WaveDelay, _ = cmd.Flags().GetDuration("wave-delay")
	}
	if cmd.Flags().Changed("random-window") {
		cfg.RandomWindow, _ = cmd.Flags().GetDuration("random-window")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout, _ = cmd.Flags().GetDuration("timeout")
	}
	if cmd.Flags().Changed("rate-limit") {
		cfg.RateLimit, _ = cmd.Flags().GetFloat64("rate-limit")
	}
	if cmd.Flags().Changed("proxy") {
		cfg.ProxyURL, _ = cmd.Flags().GetString("proxy")
	}
	if cmd.Flags().Changed("verify-ssl") {
		cfg.VerifySSL, _ = cmd.Flags().GetBool("verify-ssl")
	}
	return cfg
}

func runReplay(cmd *cobra.Command, args []string) error {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}

	requestFile, _ := cmd.Flags().GetString("request")
	if requestFile == "" {
		return fmt.Errorf("a raw request file is required (-r)")
	}

	tmpl, err := parser.ParseRequestFile(requestFile)
	if err != nil {
		return err
	}

	wordlists, err := loadWordlists(cmd)
	if err != nil {
		return err
	}

	cfg := replayConfigFromFlags(cmd)
	log := buildLogger(cmd)

	engine, err := replay.New(cfg, template.NewResolver(wordlists), log)
	if err != nil {
		return err
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	printBanner()
	printInfo("Target: %s %s", tmpl.Method, tmpl.URL())
	printInfo("Mode: %s | concurrency %d | %d requests", cfg.Mode, cfg.Concurrency, cfg.TotalRequests)

	result, runErr := engine.Run(ctx, tmpl)
	if runErr != nil {
		printWarning("Run cancelled, reporting partial results")
	}

	printSummary(result.Snapshot, result.Duration)
	printAnalyses(detector.Analyze(result.Outcomes))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		printOutcomes(result.Outcomes)
	}

	return writeReport(cmd, engine.Collector(), result.Duration)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		color.NoColor = true
	}

	def, cfg, err := workflow.Load(args[0])
	if err != nil {
		return err
	}

	wordlists, err := loadWordlists(cmd)
	if err != nil {
		return err
	}

	log := buildLogger(cmd)
	engine, err := workflow.New(def, cfg, template.NewResolver(wordlists), log)
	if err != nil {
		return err
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	printBanner()
	printInfo("Workflow: %s (%d steps)", def.Name, len(def.Steps))
	printInfo("Mode: %s", cfg.Mode)

	result, runErr := engine.Run(ctx)
	if runErr != nil {
		printWarning("Run cancelled, reporting partial results")
	}

	printStepStates(def, result.States)
	printSummary(result.Snapshot, result.Duration)
	printAnalyses(detector.Analyze(result.Outcomes))
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		printOutcomes(result.Outcomes)
	}

	return writeReport(cmd, engine.Collector(), result.Duration)
}

func writeReport(cmd *cobra.Command, sink *collector.Collector, duration time.Duration) error {
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		return nil
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer file.Close()

	if err := sink.WriteJSON(file, duration); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	printSuccess("Report written to %s", output)
	return nil
}

// Printing functions

func printBanner() {
	banner := `
   _____ __                                      __
  / ___// /_____ _____ ___  ____  ___  ____/ /__
  \__ \/ __/ __ ` + "`" + `/ __ ` + "`" + `__ \/ __ \/ _ \/ __  / _ \
 ___/ / /_/ /_/ / / / / / / /_/ /  __/ /_/ /  __/
/____/\__/\__,_/_/ /_/ /_/ .___/\___/\__,_/\___/
                        /_/
HTTP Race Condition Exploitation Engine v%s
`
	fmt.Printf(banner, version)
	fmt.Println()
}

func printInfo(format string, args ...interface{}) {
	color.Cyan("[*] "+format, args...)
}

func printSuccess(format string, args ...interface{}) {
	color.Green("[+] "+format, args...)
}

func printWarning(format string, args ...interface{}) {
	color.Yellow("[!] "+format, args...)
}

func printStepStates(def *workflow.Definition, states map[string]workflow.StepState) {
	fmt.Println()
	fmt.Println("STEPS")
	for _, step := range def.Steps {
		state := states[step.ID]
		line := fmt.Sprintf("  %-20s %s", step.Name, state)
		switch state {
		case workflow.StateCompleted:
			color.Green(line)
		case workflow.StateFailed:
			color.Red(line)
		default:
			fmt.Println(line)
		}
	}
}

func printSummary(snap collector.Snapshot, duration time.Duration) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 51))
	fmt.Println("RACE SUMMARY")
	fmt.Println(strings.Repeat("=", 51))
	fmt.Printf("Duration:   %s\n", duration.Round(time.Millisecond))
	fmt.Printf("Outcomes:   %d total, %d succeeded, %d errored\n", snap.Total, snap.Succeeded, snap.Failed)

	if len(snap.StatusCounts) > 0 {
		fmt.Println()
		fmt.Println("Status codes:")
		codes := make([]int, 0, len(snap.StatusCounts))
		for code := range snap.StatusCounts {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			line := fmt.Sprintf("  %d: %d", code, snap.StatusCounts[code])
			switch {
			case code >= 200 && code < 300:
				color.Green(line)
			case code >= 500:
				color.Red(line)
			default:
				color.Yellow(line)
			}
		}
	}

	if len(snap.ErrorCounts) > 0 {
		fmt.Println()
		fmt.Println("Errors:")
		for kind, count := range snap.ErrorCounts {
			color.Red("  %s: %d", kind, count)
		}
	}

	if snap.Latency.Max > 0 {
		fmt.Println()
		fmt.Printf("Latency:    min %s / mean %s / max %s\n",
			snap.Latency.Min.Round(time.Microsecond),
			snap.Latency.Mean.Round(time.Microsecond),
			snap.Latency.Max.Round(time.Microsecond))
		fmt.Printf("            p50 %s / p95 %s / p99 %s\n",
			snap.Latency.P50.Round(time.Microsecond),
			snap.Latency.P95.Round(time.Microsecond),
			snap.Latency.P99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("=", 51))
}

func printAnalyses(analyses []detector.Analysis) {
	for _, a := range analyses {
		label := a.StepID
		if label == "" {
			label = "run"
		}
		if a.Kind != detector.KindUnknown {
			printWarning("%s: response pattern suggests %s", label, a.Kind)
		}
		for _, anomaly := range a.Anomalies {
			printWarning("%s: %s", label, anomaly)
		}
	}
}

func printOutcomes(outcomes []types.Outcome) {
	fmt.Println()
	for _, o := range outcomes {
		tag := fmt.Sprintf("%s[%d]", o.StepID, o.Index)
		if o.OK() {
			fmt.Printf("  %-16s %d  %8s  %d bytes\n", tag, o.StatusCode, o.Elapsed.Round(time.Microsecond), o.BodySize)
		} else {
			color.Red("  %-16s %s: %s", tag, o.ErrKind, o.Err)
		}
	}
}
