package chat

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/carl-labs/carl/internal/carl"
	"github.com/carl-labs/carl/internal/carl/render"
	"github.com/carl-labs/carl/internal/carl/tui"
	"github.com/carl-labs/carl/internal/cmd"
	cmdcommon "github.com/carl-labs/carl/internal/cmd/common"
	applog "github.com/carl-labs/carl/internal/log"
	"github.com/carl-labs/carl/internal/meta"
	"github.com/carl-labs/carl/internal/util/i18n"
	"github.com/carl-labs/carl/internal/util/normalizers"
	"github.com/mattn/go-isatty"
	"github.com/segmentio/cli"
	"github.com/spf13/cobra"
)

const (
	askFlagName = "ask"

	BaseURLFlagName   = "base-url"
	BaseURLConfigPath = "ollama." + BaseURLFlagName
	BaseURLDefault    = carl.DefaultBaseURL

	ModelFlagName   = "model"
	ModelConfigPath = "ollama." + ModelFlagName

	TimeoutFlagName   = "request-timeout"
	TimeoutConfigPath = "ollama." + TimeoutFlagName

	ShowDurationFlagName   = "show-duration"
	ShowDurationConfigPath = ShowDurationFlagName
)

var (
	chatShort = i18n.T("root.chat.short",
		"Launch an interactive chat session with a local model")
	chatLong = normalizers.LongDesc(i18n.T("root.chat.long",
		fmt.Sprintf(`Start an interactive %s chat session against a local Ollama server.

With --ask, send a single prompt and print the response instead.`, meta.ProductName)))
	chatExample = normalizers.Examples(i18n.T("root.chat.examples",
		fmt.Sprintf(`
		# Start an interactive chat
		%[1]s chat
		# Ask a single question
		%[1]s chat --ask "What is a control plane?"
		# Use a specific model
		%[1]s chat --model mistral-small
		`, meta.CLIName)))
)

func addFlags(command *cobra.Command) {
	command.Flags().String(BaseURLFlagName, BaseURLDefault,
		fmt.Sprintf(`Base URL of the Ollama server.
- Config path: [ %s ]`, BaseURLConfigPath))

	modelEnum := cmd.NewEnum(carl.Models, carl.DefaultModel)
	command.Flags().Var(modelEnum, ModelFlagName,
		fmt.Sprintf(`Model used to generate responses.
- Config path: [ %s ]
- Allowed    : [ %s ]`, ModelConfigPath, strings.Join(modelEnum.Allowed, "|")))

	command.Flags().Int(TimeoutFlagName, int(carl.DefaultRequestTimeout.Seconds()),
		fmt.Sprintf(`Request timeout for a whole model invocation, in seconds.
- Config path: [ %s ]`, TimeoutConfigPath))

	command.Flags().Bool(ShowDurationFlagName, true,
		fmt.Sprintf(`Append the elapsed time to each response.
- Config path: [ %s ]`, ShowDurationConfigPath))

	colorMode := cmd.NewEnum([]string{
		cmdcommon.ColorModeAuto.String(),
		cmdcommon.ColorModeAlways.String(),
		cmdcommon.ColorModeNever.String(),
	}, cmdcommon.DefaultColorMode)
	command.Flags().Var(colorMode, cmdcommon.ColorFlagName,
		fmt.Sprintf(`Controls colorized terminal output.
- Config path: [ %s ]
- Allowed    : [ %s ]`, cmdcommon.ColorConfigPath, strings.Join(colorMode.Allowed, "|")))

	command.Flags().BoolP(askFlagName, "a", false,
		"Send a single prompt to the model and print the response")
}

func bindFlags(c *cobra.Command, args []string) error {
	helper := cmd.BuildHelper(c, args)
	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	for flagName, configPath := range map[string]string{
		BaseURLFlagName:         BaseURLConfigPath,
		ModelFlagName:           ModelConfigPath,
		TimeoutFlagName:         TimeoutConfigPath,
		ShowDurationFlagName:    ShowDurationConfigPath,
		cmdcommon.ColorFlagName: cmdcommon.ColorConfigPath,
	} {
		f := c.Flags().Lookup(flagName)
		if f == nil {
			continue
		}
		if err := cfg.BindFlag(configPath, f); err != nil {
			return err
		}
	}

	return nil
}

func validateArgs(c *cobra.Command, args []string) error {
	isAsk, err := c.Flags().GetBool(askFlagName)
	if err != nil {
		return err
	}

	if isAsk {
		return cobra.MinimumNArgs(1)(c, args)
	}

	return cobra.NoArgs(c, args)
}

// NewChatCmd builds the chat command.
func NewChatCmd() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:     "chat",
		Short:   chatShort,
		Long:    chatLong,
		Example: chatExample,
		Args:    validateArgs,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			return bindFlags(c, args)
		},
		RunE: func(c *cobra.Command, args []string) error {
			helper := cmd.BuildHelper(c, args)
			isAsk, err := c.Flags().GetBool(askFlagName)
			if err != nil {
				return err
			}
			if isAsk {
				return runAsk(helper)
			}
			return runInteractive(helper)
		},
	}

	addFlags(command)

	return command, nil
}

// resolveSettings reads the chat settings out of the configuration, applying
// package defaults for unset values.
func resolveSettings(helper cmd.Helper) (baseURL, model string, timeout time.Duration, showDuration bool, err error) {
	cfg, err := helper.GetConfig()
	if err != nil {
		return "", "", 0, false, err
	}

	baseURL = cfg.GetString(BaseURLConfigPath)
	if baseURL == "" {
		baseURL = BaseURLDefault
	}

	model = cfg.GetString(ModelConfigPath)
	if model == "" {
		model = carl.DefaultModel
	}
	if !carl.IsKnownModel(model) {
		return "", "", 0, false, &cmd.ConfigurationError{
			Err: fmt.Errorf("unknown model %q, must be one of %v", model, carl.Models),
		}
	}

	timeout = time.Duration(cfg.GetIntOrElse(TimeoutConfigPath, int(carl.DefaultRequestTimeout.Seconds()))) * time.Second
	showDuration = cfg.GetBool(ShowDurationConfigPath)
	return baseURL, model, timeout, showDuration, nil
}

func runInteractive(helper cmd.Helper) error {
	baseURL, model, timeout, showDuration, err := resolveSettings(helper)
	if err != nil {
		return err
	}

	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	streams := helper.GetStreams()
	if !isTerminal(streams.Out) {
		return cmd.PrepareExecutionError(
			"interactive chat requires a TTY",
			fmt.Errorf("output stream is not a terminal"),
			helper.GetCmd(),
		)
	}

	colorMode, err := cmdcommon.ColorModeStringToIota(cfg.GetString(cmdcommon.ColorConfigPath))
	if err != nil {
		return err
	}
	useColor := shouldUseColor(colorMode, streams.Out)

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	version := "dev"
	if info, err := helper.GetBuildInfo(); err == nil && info != nil {
		if v := strings.TrimSpace(info.Version); v != "" {
			version = v
		}
	}

	// Error mirroring to stderr would corrupt the alternate screen.
	applog.DisableErrorMirroring()
	defer applog.EnableErrorMirroring()

	return tui.Run(ctx, streams, tui.Options{
		BaseURL:        baseURL,
		Model:          model,
		Models:         carl.Models,
		RequestTimeout: timeout,
		ReportDuration: showDuration,
		UseColor:       useColor,
		Version:        version,
	})
}

func runAsk(helper cmd.Helper) error {
	args := helper.GetArgs()
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return cmd.PrepareExecutionError("prompt is required",
			fmt.Errorf("prompt cannot be empty"), helper.GetCmd())
	}

	baseURL, model, timeout, showDuration, err := resolveSettings(helper)
	if err != nil {
		return err
	}

	cfg, err := helper.GetConfig()
	if err != nil {
		return err
	}

	ctx := helper.GetContext()
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	result, err := carl.Chat(ctx, nil, baseURL, model,
		[]carl.Message{{Role: string(carl.RoleUser), Content: prompt}}, timeout)
	if err != nil {
		return cmd.PrepareExecutionError("failed to chat with the model", err, helper.GetCmd())
	}
	elapsed := time.Since(started)

	response := result.Response
	if showDuration {
		response = fmt.Sprintf("%s\n\nDuration: %.2f seconds", response, elapsed.Seconds())
	}

	outType, err := helper.GetOutputFormat()
	if err != nil {
		return err
	}

	streams := helper.GetStreams()

	colorMode, err := cmdcommon.ColorModeStringToIota(cfg.GetString(cmdcommon.ColorConfigPath))
	if err != nil {
		return err
	}
	useColor := shouldUseColor(colorMode, streams.Out)

	switch outType {
	case cmdcommon.TEXT:
		formatted := render.Markdown(response, render.Options{NoColor: !useColor})
		_, err := fmt.Fprintln(streams.Out, formatted)
		return err
	case cmdcommon.JSON, cmdcommon.YAML:
		printer, err := cli.Format(outType.String(), streams.Out)
		if err != nil {
			return err
		}
		defer printer.Flush()
		printer.Print(askResult{
			Model:    result.Model,
			Prompt:   result.Prompt,
			Response: result.Response,
			Seconds:  elapsed.Seconds(),
		})
		return nil
	default:
		return &cmd.ConfigurationError{
			Err: fmt.Errorf("unsupported output format %s for %s command",
				outType.String(), helper.GetCmd().CommandPath()),
		}
	}
}

type askResult struct {
	Model    string  `json:"model"    yaml:"model"`
	Prompt   string  `json:"prompt"   yaml:"prompt"`
	Response string  `json:"response" yaml:"response"`
	Seconds  float64 `json:"seconds"  yaml:"seconds"`
}

func shouldUseColor(mode cmdcommon.ColorMode, out io.Writer) bool {
	switch mode {
	case cmdcommon.ColorModeAlways:
		return true
	case cmdcommon.ColorModeNever:
		return false
	default:
		if _, disabled := os.LookupEnv("NO_COLOR"); disabled {
			return false
		}
		return isTerminal(out)
	}
}

var terminalDetector = func(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func isTerminal(w io.Writer) bool {
	type fdWriter interface {
		Fd() uintptr
	}
	if fw, ok := w.(fdWriter); ok {
		return terminalDetector(fw.Fd())
	}
	return false
}
