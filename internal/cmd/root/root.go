package root

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/carl-labs/carl/internal/build"
	"github.com/carl-labs/carl/internal/cmd"
	"github.com/carl-labs/carl/internal/cmd/common"
	"github.com/carl-labs/carl/internal/cmd/root/chat"
	"github.com/carl-labs/carl/internal/cmd/root/models"
	"github.com/carl-labs/carl/internal/cmd/root/version"
	"github.com/carl-labs/carl/internal/config"
	"github.com/carl-labs/carl/internal/iostreams"
	applog "github.com/carl-labs/carl/internal/log"
	"github.com/carl-labs/carl/internal/meta"
	"github.com/carl-labs/carl/internal/util"
	"github.com/carl-labs/carl/internal/util/i18n"
	"github.com/carl-labs/carl/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const logFileName = "carl.log"

var (
	rootLong = normalizers.LongDesc(i18n.T("root.rootLong", fmt.Sprintf(`
  %s is a terminal client for a local Ollama model server.

  Ask one-shot questions or hold an interactive streaming chat session.`,
		meta.ProductName)))

	rootShort = i18n.T("root.rootShort", fmt.Sprintf("%s talks to your local models", meta.CLIName))

	rootCmd *cobra.Command

	// Stores the global runtime value for the configuration file path
	configFilePath = config.ExpandDefaultConfigFilePath()

	currConfig   config.Hook
	streams      *iostreams.IOStreams
	buildInfo    *build.Info
	outputFormat = cmd.NewEnum([]string{"json", "yaml", "text"}, common.DefaultOutputFormat)
	logLevel     = cmd.NewEnum([]string{"trace", "debug", "info", "warn", "error"}, common.DefaultLogLevel)
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   meta.CLIName,
		Short: rootShort,
		Long:  rootLong,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			ctx := context.WithValue(cmd.Context(), config.ConfigKey, currConfig)
			ctx = context.WithValue(ctx, iostreams.StreamsKey, streams)
			ctx = context.WithValue(ctx, build.InfoKey, buildInfo)
			ctx = context.WithValue(ctx, applog.LoggerKey, buildLogger(currConfig))
			cmd.SetContext(ctx)
		},
	}

	// parses all flags not just the target command
	rootCmd.TraverseChildren = true

	rootCmd.PersistentFlags().StringVar(&configFilePath, common.ConfigFilePathFlagName,
		config.ExpandDefaultConfigFilePath(),
		i18n.T("root."+common.ConfigFilePathFlagName, "Path to the configuration file to load."))

	rootCmd.PersistentFlags().VarP(outputFormat, common.OutputFlagName, common.OutputFlagShort,
		fmt.Sprintf(`Configures the output format.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.OutputConfigPath, strings.Join(outputFormat.Allowed, "|")))

	rootCmd.PersistentFlags().Var(logLevel, common.LogLevelFlagName,
		fmt.Sprintf(`Configures the logging level.
- Config path: [ %s ]
- Allowed    : [ %s ]`,
			common.LogLevelConfigPath, strings.Join(logLevel.Allowed, "|")))

	return rootCmd
}

// buildLogger assembles the session logger: all records go to a log file next
// to the configuration, and error records are mirrored to stderr unless an
// interactive command disables mirroring.
func buildLogger(cfg config.Hook) *slog.Logger {
	level := common.DefaultLogLevel
	if cfg != nil {
		if l := cfg.GetString(common.LogLevelConfigPath); l != "" {
			level = l
		}
	}
	slogLevel := applog.ConfigLevelStringToSlogLevel(level)

	var fileHandler slog.Handler
	if cfg != nil {
		logPath := filepath.Join(filepath.Dir(cfg.GetPath()), logFileName)
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			fileHandler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slogLevel})
		}
	}

	consoleHandler := slog.NewTextHandler(streams.ErrOut, &slog.HandlerOptions{Level: slog.LevelError})

	return slog.New(applog.NewMirrorHandler(fileHandler, consoleHandler))
}

// addCommands adds the root subcommands to the command.
func addCommands() error {
	rootCmd.AddCommand(version.NewVersionCmd())

	c, e := chat.NewChatCmd()
	if e != nil {
		return e
	}
	rootCmd.AddCommand(c)

	c, e = models.NewModelsCmd()
	if e != nil {
		return e
	}
	rootCmd.AddCommand(c)

	return nil
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd = newRootCmd()
	err := addCommands()
	util.CheckError(err)
}

func initConfig() {
	cfg, err := config.GetConfig(configFilePath, config.ExpandDefaultConfigFilePath())
	util.CheckError(err)
	currConfig = cfg

	f := rootCmd.Flags().Lookup(common.OutputFlagName)
	util.CheckError(cfg.BindFlag(common.OutputConfigPath, f))

	f = rootCmd.Flags().Lookup(common.LogLevelFlagName)
	util.CheckError(cfg.BindFlag(common.LogLevelConfigPath, f))
}

func Execute(ctx context.Context, s *iostreams.IOStreams, bi *build.Info) {
	buildInfo = bi
	cobra.EnableTraverseRunHooks = true
	streams = s
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var executionError *cmd.ExecutionError
		if errors.As(err, &executionError) {
			printer, _ := cli.Format(outputFormat.String(), s.ErrOut)
			printer.Print(err)
			os.Exit(1)
		}
	}
}
