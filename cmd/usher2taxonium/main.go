// Package main provides the usher2taxonium command-line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/taxonium/usher2taxonium/internal/pipeline"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitUsage   = 2
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errUsage marks errors caused by bad command-line input.
var errUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app holds state shared by every subcommand.
type app struct {
	stdout, stderr io.Writer
	cfgFile        string
	logger         *zap.Logger
	closeLog       func()
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, logger: zap.NewNop(), closeLog: func() {}}
	defer func() { a.closeLog() }()

	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if errors.Is(err, errUsage) || errors.Is(err, pipeline.ErrNoInput) {
		return ExitUsage
	}
	return ExitError
}

func (a *app) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usher2taxonium",
		Short: "Convert UShER mutation-annotated trees to Taxonium JSONL",
		Long: `usher2taxonium converts an UShER mutation-annotated tree (.pb or .pb.gz)
into the Taxonium JSONL format, optionally joining sample metadata and
annotating amino acid changes from a GenBank reference.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ~/.usher2taxonium.yaml)")
	cmd.PersistentFlags().String(logLevelFlagName, "", "log level: debug, info, warn or error")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(logLevelFlagName), logLevelKey)
	cmd.PersistentFlags().String(logFileFlagName, "", "also write JSON logs to this rotating file")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(logFileFlagName), logFilenameKey)

	cmd.AddCommand(a.newConvertCmd())
	cmd.AddCommand(a.newQueryCmd())
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(a.newVersionCmd())
	return cmd
}

// setup loads .env and the config file, then builds the logger.
func (a *app) setup() error {
	envErr := godotenv.Load()

	if err := initConfig(a.cfgFile); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(a.stderr, viper.GetString(logLevelKey), viper.GetString(logFilenameKey))
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	a.logger = logger
	a.closeLog = closeLog

	if envErr != nil {
		a.logger.Debug("no .env found, using process environment")
	}
	if f := viper.ConfigFileUsed(); f != "" {
		a.logger.Debug("using config file", zap.String("path", f))
	}
	return nil
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.stdout, "usher2taxonium version %s (%s) built %s\n", version, commit, date)
			return nil
		},
	}
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}
