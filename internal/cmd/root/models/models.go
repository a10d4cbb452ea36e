package models

import (
	"context"
	"fmt"

	"github.com/carl-labs/carl/internal/carl"
	"github.com/carl-labs/carl/internal/cmd"
	cmdcommon "github.com/carl-labs/carl/internal/cmd/common"
	"github.com/carl-labs/carl/internal/cmd/root/chat"
	"github.com/carl-labs/carl/internal/util/i18n"
	"github.com/carl-labs/carl/internal/util/normalizers"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

var (
	modelsShort = i18n.T("root.models.short", "List the models available on the Ollama server")
	modelsLong  = normalizers.LongDesc(i18n.T("root.models.long",
		`List the models the configured Ollama server can serve, with their sizes.`))
)

// NewModelsCmd builds the models command.
func NewModelsCmd() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   "models",
		Short: modelsShort,
		Long:  modelsLong,
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			helper := cmd.BuildHelper(c, args)
			cfg, err := helper.GetConfig()
			if err != nil {
				return err
			}
			f := c.Flags().Lookup(chat.BaseURLFlagName)
			if f == nil {
				return nil
			}
			return cfg.BindFlag(chat.BaseURLConfigPath, f)
		},
		RunE: func(c *cobra.Command, args []string) error {
			return run(cmd.BuildHelper(c, args))
		},
	}

	command.Flags().String(chat.BaseURLFlagName, chat.BaseURLDefault,
		fmt.Sprintf(`Base URL of the Ollama server.
- Config path: [ %s ]`, chat.BaseURLConfigPath))

	return command, nil
}

func run(helper cmd.Helper) error {
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	baseURL := cfg.GetString(chat.BaseURLConfigPath)
	if baseURL == "" {
		baseURL = chat.BaseURLDefault
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	list, err := carl.ListModels(ctx, nil, baseURL)
	if err != nil {
		return cmd.PrepareExecutionError("failed to list models", err, helper.GetCmd())
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}

	streams := helper.GetStreams()

	if outType == cmdcommon.TEXT {
		for _, m := range list {
			if _, err := fmt.Fprintln(streams.Out, m.Name); err != nil {
				return err
			}
		}
		return nil
	}

	printer, err := cli.Format(outType.String(), streams.Out)
	if err != nil {
		return err
	}
	defer printer.Flush()
	printer.Print(list)
	return nil
}
