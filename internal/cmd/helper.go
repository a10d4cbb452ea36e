package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/carl-labs/carl/internal/build"
	"github.com/carl-labs/carl/internal/cmd/common"
	"github.com/carl-labs/carl/internal/config"
	"github.com/carl-labs/carl/internal/iostreams"
	"github.com/carl-labs/carl/internal/log"
	"github.com/spf13/cobra"
)

// Helper abstracts access to the runtime dependencies a command needs,
// resolved from the command's context. Commands depend on this interface so
// tests can substitute fakes.
type Helper interface {
	GetCmd() *cobra.Command
	GetArgs() []string
	GetStreams() *iostreams.IOStreams
	GetConfig() (config.Hook, error)
	GetOutputFormat() (common.OutputFormat, error)
	GetLogger() (*slog.Logger, error)
	GetBuildInfo() (*build.Info, error)
	GetContext() context.Context
}

type CommandHelper struct {
	// Cmd is a pointer to the command that is being executed
	Cmd *cobra.Command
	// Args are the arguments (not flags) passed to the command
	Args []string
}

func BuildHelper(cmd *cobra.Command, args []string) Helper {
	return &CommandHelper{
		Cmd:  cmd,
		Args: args,
	}
}

func (r *CommandHelper) GetCmd() *cobra.Command {
	return r.Cmd
}

func (r *CommandHelper) GetArgs() []string {
	return r.Args
}

func (r *CommandHelper) GetContext() context.Context {
	return r.Cmd.Context()
}

func (r *CommandHelper) GetStreams() *iostreams.IOStreams {
	return r.Cmd.Context().Value(iostreams.StreamsKey).(*iostreams.IOStreams)
}

func (r *CommandHelper) GetConfig() (config.Hook, error) {
	cfgVal := r.Cmd.Context().Value(config.ConfigKey)
	if cfgVal == nil {
		return nil, &ConfigurationError{
			Err: fmt.Errorf("no config found in context"),
		}
	}
	return cfgVal.(config.Hook), nil
}

func (r *CommandHelper) GetOutputFormat() (common.OutputFormat, error) {
	c, e := r.GetConfig()
	if e != nil {
		return common.TEXT, e
	}
	s := c.GetString(common.OutputConfigPath)
	rv, e := common.OutputFormatStringToIota(s)
	if e != nil {
		return common.TEXT, e
	}
	return rv, nil
}

func (r *CommandHelper) GetLogger() (*slog.Logger, error) {
	val := r.Cmd.Context().Value(log.LoggerKey)
	if val == nil {
		return nil, &ConfigurationError{
			Err: fmt.Errorf("no logger configured"),
		}
	}
	logger, ok := val.(*slog.Logger)
	if !ok || logger == nil {
		return nil, &ConfigurationError{
			Err: fmt.Errorf("invalid logger configured"),
		}
	}
	return logger, nil
}

func (r *CommandHelper) GetBuildInfo() (*build.Info, error) {
	val := r.Cmd.Context().Value(build.InfoKey)
	if val == nil {
		return nil, &ConfigurationError{
			Err: fmt.Errorf("no build info configured"),
		}
	}
	info, ok := val.(*build.Info)
	if !ok || info == nil {
		return nil, &ConfigurationError{
			Err: fmt.Errorf("invalid build info configured"),
		}
	}
	return info, nil
}

// ConfigurationError represents errors that are a result of bad flags,
// combinations of flags, configuration settings, environment values, or other
// command usage issues.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return e.Err.Error()
}

// ExecutionError represents errors that occur after a command has been
// validated and an unsuccessful result occurs. Network errors, server side
// errors, or invalid responses are examples of ExecutionError types.
type ExecutionError struct {
	// friendly error message to display to the user
	Msg string
	// Err is the error that occurred during execution
	Err error
	// Optional attributes that can be used to provide additional context to the error
	Attrs []any
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

// PrepareExecutionError constructs an execution error AND turns off error and
// usage output for the command.
func PrepareExecutionError(msg string, err error, cmd *cobra.Command, attrs ...any) *ExecutionError {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	return &ExecutionError{
		Msg:   msg,
		Err:   err,
		Attrs: attrs,
	}
}

// PrepareExecutionErrorMsg builds an ExecutionError from a message when a
// backing error is not already available.
func PrepareExecutionErrorMsg(helper Helper, msg string, attrs ...any) *ExecutionError {
	if msg == "" {
		return PrepareExecutionError(msg, errors.New("an unknown error occurred"), helper.GetCmd(), attrs...)
	}
	return PrepareExecutionError(msg, errors.New(msg), helper.GetCmd(), attrs...)
}
