package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/DulanDias/opensecagent/internal/audit"
	"github.com/DulanDias/opensecagent/internal/collector"
	"github.com/DulanDias/opensecagent/internal/config"
	"github.com/DulanDias/opensecagent/internal/daemon"
	"github.com/DulanDias/opensecagent/internal/detector"
	"github.com/DulanDias/opensecagent/internal/logging"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "opensecagent",
		Short:        "Host security agent: collect, detect, contain, report",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(
		daemonCmd(),
		collectCmd(),
		driftCmd(),
		detectCmd(),
		validateCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Format: cfg.Logging.Format,
		Level:  cfg.Logging.Level,
	})
	return cfg, nil
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the monitoring daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, problem := range cfg.Validate() {
		log.Warn().Msg(problem)
	}
	if err := ensureWritableDir(cfg.Agent.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if err := ensureWritableDir(cfg.Agent.LogDir); err != nil {
		return fmt.Errorf("log dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return daemon.New(cfg).Run(ctx)
}

// ensureWritableDir creates the directory and proves write access with a
// probe file. Permission problems must fail startup, not surface later as
// silent sink losses.
func ensureWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	probe := filepath.Join(dir, ".write_probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return err
	}
	return os.Remove(probe)
}

func collectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run host and docker collectors once and print the inventories",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			hostInv, warnings := collector.NewHost().Collect(ctx)
			for _, w := range warnings {
				log.Warn().Msg(w)
			}
			dockerInv := collector.NewDocker().Collect(ctx)
			return printJSON(map[string]any{"host": hostInv, "docker": dockerInv})
		},
	}
}

func driftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Run one drift check against the baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			drift := collector.NewDrift(cfg.Agent.DataDir, cfg.Collector.CriticalFiles)
			events, err := drift.Check(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}
}

func detectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Run all detectors once and print the events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			activity := audit.NewActivity("", false)
			mgr := detector.NewManager(cfg.Detector, activity)
			return printJSON(mgr.RunDetectors(cmd.Context()))
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			problems := cfg.Validate()
			if len(problems) == 0 {
				fmt.Println("configuration OK")
				return nil
			}
			for _, p := range problems {
				fmt.Fprintln(os.Stderr, p)
			}
			return fmt.Errorf("%d configuration problem(s)", len(problems))
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
