package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jpfielding/shrink.go/pkg/config"
	"github.com/jpfielding/shrink.go/pkg/logging"
	"github.com/spf13/cobra"
)

// app carries the loaded config from PersistentPreRunE to the subcommands
type app struct {
	cfg     *config.Config
	logFile io.Closer
}

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	a := &app{cfg: config.Default()}
	cmd := &cobra.Command{
		Use:           "shrinkctl",
		Short:         "a CLI to resize and re-encode images",
		Long:          "shrinkctl orients, fits and re-encodes JPEG, PNG, WebP and AVIF images in batches",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
			}
			a.cfg = cfg

			// Parse log level
			var level slog.Level
			if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Log.Level))); err != nil {
				level = slog.LevelInfo
			}
			var out io.Writer = os.Stderr
			if cfg.Log.File != "" {
				f := logging.FileWriter(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
				a.logFile = f
				out = io.MultiWriter(os.Stderr, f)
			}
			slog.SetDefault(logging.Logger(out, cfg.Log.JSON, level))

			if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Log.Level))); err != nil {
				slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", cfg.Log.Level, "error", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				a.logFile.Close()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewCompressCmd(ctx, a),
		NewInfoCmd(ctx, a),
		NewWatchCmd(ctx, a),
	)
	pf := cmd.PersistentFlags()
	pf.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.StringP("config", "c", "shrink.yaml", "YAML config file (missing file keeps defaults)")
	return cmd
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Println(strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}
