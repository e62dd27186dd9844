package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/airbytehq/airbyte-platform/internal/artifacts"
	"github.com/airbytehq/airbyte-platform/internal/log"
	"github.com/airbytehq/airbyte-platform/internal/server"
	"github.com/airbytehq/airbyte-platform/internal/settings"
	"github.com/airbytehq/airbyte-platform/internal/tasks"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

const configEnv = "PLATFORMCI_CONFIG"

var (
	cfg settings.Settings

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("platformci failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "platformci",
		Short:        "Build, test and check the platform",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML settings file, environment variables take precedence over it. Defaults to $"+configEnv)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// resolve settings, setup logging
	rootCmd.PersistentPreRunE = initPlatformCI

	addTaskCommands(rootCmd, tasks.Commands)
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

// addTaskCommands creates one command per task, grouped ones below a
// command named after the group.
func addTaskCommands(root *cobra.Command, cmds []tasks.Command) {
	groups := make(map[string]*cobra.Command)
	for _, c := range cmds {
		parent := root
		if c.Group != "" {
			g, ok := groups[c.Group]
			if !ok {
				g = &cobra.Command{
					Use:   c.Group,
					Short: c.Group + " tasks",
				}
				groups[c.Group] = g
				root.AddCommand(g)
			}
			parent = g
		}
		parent.AddCommand(taskCmd(c))
	}
}

func taskCmd(c tasks.Command) *cobra.Command {
	var scan bool
	cmd := &cobra.Command{
		Use:   c.Name,
		Short: c.Help,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return doTask(cmd, c.Target, scan)
		},
	}
	cmd.Flags().BoolVar(&scan, "scan", false, "publish gradle build scans")
	return cmd
}

func doTask(cmd *cobra.Command, target string, scan bool) error {
	ctx := cmd.Context()
	attrs := slog.Group("platformci",
		slog.String("cmd", cmd.CommandPath()),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	dir, err := artifacts.NewDirPublisher(cfg.OutputDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := dir.Close(); err != nil {
			slog.WarnContext(ctx, "closing artifact publisher failed", "error", err)
		}
	}()

	rc := tasks.NewRunContext(&cfg, nil)
	rc.Out = cmd.OutOrStdout()
	rc.Publisher = artifacts.Multi{dir, artifacts.NewWriterPublisher(cmd.ErrOrStderr())}
	defer func() {
		if err := rc.Close(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "closing execution environment failed", "error", err)
		}
	}()

	report, err := tasks.Run(ctx, rc, target, scan)
	if report != nil {
		for _, o := range report.Outcomes {
			slog.InfoContext(ctx, "task finished",
				"task", o.Name,
				"state", o.State.String(),
				"duration", o.Duration().String(),
			)
		}
	}
	return err
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the health and capabilities endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			return server.ListenAndServe(cmd.Context(), addr, server.Handler(&cfg))
		},
	}
}

func settingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the resolved settings, secrets are masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(cfg.Redacted()); err != nil {
				return fmt.Errorf("encoding settings: %w", err)
			}
			return enc.Close()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "version provides the version of platformci",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Fprintln(w, "platformci: version info not available")
				return
			}

			if flagConfigFilePath != "" {
				fmt.Fprintf(w, "config:     %s\n", flagConfigFilePath)
			}
			fmt.Fprintf(w, "platformci: %s\n", info.Main.Version)
			fmt.Fprintf(w, "platform:   %s\n", cfg.Version)
			fmt.Fprintf(w, "go:         %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(w, "commit:     %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(w, "date:       %s\n", s.Value)
				case "vcs.modified":
					fmt.Fprintf(w, "dirty:      %s\n", s.Value)
				}
			}
		},
	}
}

func initPlatformCI(cmd *cobra.Command, _ []string) error {
	configPath := flagConfigFilePath
	if configPath == "" {
		configPath = os.Getenv(configEnv)
	}

	var err error
	cfg, err = settings.Load(settings.Options{ConfigFile: configPath})
	if err != nil {
		for _, d := range settings.Details(err) {
			slog.Error(d)
		}
		return fmt.Errorf("loading settings: %w", err)
	}

	// --verbose has a precedence over LOG_LEVEL
	level := log.ParseLevel(cfg.LogLevel)
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(cmd.ErrOrStderr(), level))

	slog.Debug("platformci run", "configPath", configPath)
	slog.Debug("platformci run", "settings", cfg.Redacted())
	return nil
}
