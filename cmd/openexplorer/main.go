package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/OpenExplorer/internal/apilog"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
	"github.com/PentesterFlow/OpenExplorer/internal/output"
	"github.com/PentesterFlow/OpenExplorer/internal/shutdown"
	"github.com/PentesterFlow/OpenExplorer/internal/state"
	"github.com/PentesterFlow/OpenExplorer/pkg/explorer"
)

var (
	version = "0.1.0"

	// Global flags
	configFile  string
	verbose     bool
	debug       bool
	logLevel    string
	sessionsDir string
	chromePath  string
	profileDir  string

	// Explore flags
	task         string
	headless     bool
	maxSteps     int
	loginTimeout time.Duration
	model        string
	promptPath   string
	jsonOutput   bool

	// Sessions flags
	sessionsLimit int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "openexplorer",
		Short: "OpenExplorer - AI-driven website explorer",
		Long: `OpenExplorer - Drives a real browser through an unfamiliar website to accomplish a task,
recording the API traffic it triggers.

When the site asks for a login, exploration pauses and hands the browser to you.
Credentials are never read, stored or sent anywhere.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	exploreCmd := &cobra.Command{
		Use:   "explore [url]",
		Short: "Explore a site to accomplish a task",
		Long:  "Explore a site with the decision model and record a HAR, run log and session summary.",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplore,
	}

	loginCmd := &cobra.Command{
		Use:   "login [url]",
		Short: "Sign in to a site in the persistent browser profile",
		Long:  "Open a visible browser on the site and wait for you to sign in. Later explore runs reuse the session.",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogin,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		RunE:  runSessions,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("openexplorer %s\n", version)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides --verbose and --debug")
	rootCmd.PersistentFlags().StringVar(&sessionsDir, "sessions-dir", "", "Session bundle directory (default ~/.openexplorer/sessions)")
	rootCmd.PersistentFlags().StringVar(&chromePath, "chrome-path", "", "Chrome/Chromium binary")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", "", "Persistent browser profile (default ~/.openexplorer/profile)")

	// Explore flags
	exploreCmd.Flags().StringVarP(&task, "task", "t", "", "What to accomplish on the site (or task: in the config file)")
	exploreCmd.Flags().BoolVar(&headless, "headless", false, "Run without a window (login pages end the run)")
	exploreCmd.Flags().IntVarP(&maxSteps, "max-steps", "n", explorer.DefaultMaxSteps, "Step budget")
	exploreCmd.Flags().DurationVar(&loginTimeout, "login-timeout", explorer.DefaultLoginTimeout, "How long to wait for you to sign in")
	exploreCmd.Flags().StringVarP(&model, "model", "m", "", "Decision model")
	exploreCmd.Flags().StringVar(&promptPath, "prompt", "", "System prompt file overriding the built-in one")
	exploreCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	loginCmd.Flags().DurationVar(&loginTimeout, "login-timeout", explorer.DefaultLoginTimeout, "How long to wait for you to sign in")

	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "Number of sessions to show (0 for all)")
	sessionsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print sessions as JSON")

	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, then applies the flags that
// were set explicitly.
func loadConfig(cmd *cobra.Command) (*explorer.Config, error) {
	config := explorer.DefaultConfig()
	if configFile != "" {
		fileConfig, err := explorer.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	flags := cmd.Flags()
	if sessionsDir != "" {
		config.SessionsDir = sessionsDir
	}
	if chromePath != "" {
		config.Browser.ChromePath = chromePath
	}
	if profileDir != "" {
		config.Browser.ProfileDir = profileDir
	}
	if flags.Changed("task") {
		config.Task = task
	}
	if flags.Changed("headless") {
		config.Browser.Headless = headless
	}
	if flags.Changed("max-steps") {
		config.MaxSteps = maxSteps
	}
	if flags.Changed("login-timeout") {
		config.LoginTimeout = loginTimeout
	}
	if flags.Changed("model") {
		config.LLM.Model = model
	}
	if flags.Changed("prompt") {
		config.PromptPath = promptPath
	}
	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug

	return config, nil
}

func newLogger(config *explorer.Config) (*logger.Logger, error) {
	level := logger.InfoLevel
	if config.Debug {
		level = logger.DebugLevel
	} else if !config.Verbose {
		level = logger.WarnLevel
	}
	if logLevel != "" {
		parsed, err := logger.ParseLevel(logLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		level = parsed
	}
	return logger.New(logger.Config{
		Level:     level,
		Pretty:    true,
		Component: "explorer",
	}), nil
}

// newShutdown cancels the returned context on the first interrupt and exits
// on the second.
func newShutdown(log *logger.Logger) *shutdown.Handler {
	h := shutdown.New(shutdown.Config{
		Logger: log,
		OnForce: func() {
			fmt.Fprintln(os.Stderr, "\nForced exit; the session bundle may be incomplete")
			os.Exit(130)
		},
	})
	h.Listen()
	return h
}

func openIndex(dir string) (*state.BoltStore, error) {
	return state.NewBoltStore(filepath.Join(dir, state.IndexFile))
}

func runExplore(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config.URL = args[0]

	log, err := newLogger(config)
	if err != nil {
		return err
	}
	sh := newShutdown(log)
	defer sh.Stop()

	store, err := openIndex(config.SessionsDir)
	if err != nil {
		log.WithError(err).Warn("Session index unavailable; this run will not be listed")
	} else {
		sh.Register("session index", func(ctx context.Context) error { return store.Close() })
	}

	opts := []explorer.Option{
		explorer.WithConfig(config),
		explorer.WithLogger(log),
	}
	if store != nil {
		opts = append(opts, explorer.WithStore(store))
	}
	e, err := explorer.New(opts...)
	if err != nil {
		sh.Shutdown()
		return fmt.Errorf("failed to create explorer: %w", err)
	}

	if !jsonOutput {
		printBanner(e.Config())
	}

	result, err := e.Run(sh.Context())
	sh.Shutdown()
	if err != nil {
		return fmt.Errorf("explore failed: %w", err)
	}
	if sh.Interrupted() && !jsonOutput {
		fmt.Println("\nInterrupted; the partial session was saved.")
	}

	if jsonOutput {
		w := output.NewWriter(os.Stdout, output.Config{Format: "json", Pretty: true})
		defer w.Close()
		return w.WriteResult(result)
	}
	printSummary(result)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(config)
	if err != nil {
		return err
	}
	sh := newShutdown(log)
	defer sh.Stop()

	e, err := explorer.New(explorer.WithConfig(config), explorer.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create explorer: %w", err)
	}

	fmt.Printf("Opening %s; sign in using the browser window (timeout %s).\n", args[0], config.LoginTimeout)
	res, err := e.Login(sh.Context(), args[0])
	sh.Shutdown()
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if !res.Detection.IsLoginPage {
		fmt.Println("No login page detected; the profile is probably signed in already.")
		return nil
	}
	fmt.Printf("Login completed (signal: %s, %.1fs)\n", res.Completion.Signal, res.Completion.Duration.Seconds())
	if len(res.Completion.NewCookies) > 0 {
		fmt.Printf("New cookies: %s\n", strings.Join(res.Completion.NewCookies, ", "))
	}
	fmt.Printf("Profile saved to %s\n", config.Browser.ProfileDir)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openIndex(config.SessionsDir)
	if err != nil {
		return fmt.Errorf("failed to open session index: %w", err)
	}
	defer store.Close()

	records, err := store.List()
	if err != nil {
		return err
	}
	if sessionsLimit > 0 && len(records) > sessionsLimit {
		records = records[:sessionsLimit]
	}

	if jsonOutput {
		w := output.NewWriter(os.Stdout, output.Config{Format: "jsonl"})
		defer w.Close()
		for _, rec := range records {
			if err := w.WriteRecord(rec); err != nil {
				return err
			}
		}
		return w.Flush()
	}

	if len(records) == 0 {
		fmt.Printf("No sessions in %s\n", config.SessionsDir)
		return nil
	}
	fmt.Printf("%-34s %-20s %8s %7s %5s %-22s %s\n", "SESSION", "STARTED", "DURATION", "ACTIONS", "APIS", "RESULT", "URL")
	for _, rec := range records {
		reason := rec.Reason
		if reason == "" {
			reason = "running"
		}
		duration := "-"
		if d := rec.Duration(); d > 0 {
			duration = d.Round(time.Second).String()
		}
		fmt.Printf("%-34s %-20s %8s %7d %5d %-22s %s\n",
			rec.ID, rec.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, rec.Actions, rec.APIsSeen, reason, rec.URL)
	}
	return nil
}

func printBanner(config *explorer.Config) {
	mode := "headful"
	if config.Browser.Headless {
		mode = "headless"
	}
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        OpenExplorer                          ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Target:     %s\n", config.URL)
	fmt.Printf("Task:       %s\n", config.Task)
	fmt.Printf("Max Steps:  %d\n", config.MaxSteps)
	fmt.Printf("Browser:    %s\n", mode)
	fmt.Printf("Model:      %s\n", config.LLM.Model)
	fmt.Println()
}

func printSummary(result *explorer.Result) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      Explore Summary                         ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Session:       %s\n", result.SessionID)
	fmt.Printf("Result:        %s\n", result.Reason)
	if result.Stats != nil {
		fmt.Printf("Duration:      %v\n", result.Stats.Uptime.Round(time.Second))
		fmt.Printf("Steps:         %d (%.0f%% actions failed)\n", result.Stats.StepsTotal, result.Stats.ActionFailureRate()*100)
	}
	fmt.Printf("Actions:       %d\n", len(result.Actions))
	fmt.Printf("API Calls:     %d\n", len(result.APIsSeen))
	fmt.Printf("Logins:        %d\n", len(result.AuthSignals))
	fmt.Printf("HAR:           %s\n", result.HARPath)
	fmt.Printf("Bundle:        %s\n", result.SessionDir)
	fmt.Println()

	if len(result.APIsSeen) > 0 {
		fmt.Println("Observed Endpoints:")
		lines := apilog.Summarize(result.APIsSeen)
		count := 15
		if len(lines) < count {
			count = len(lines)
		}
		for _, l := range lines[:count] {
			fmt.Printf("  %s\n", l.String())
		}
		if len(lines) > count {
			fmt.Printf("  ... and %d more\n", len(lines)-count)
		}
		fmt.Println()
	}
}
