// Package log wires the command line logging flags to log/slog handlers.
package log

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeremaih2/avatarsystem/internal/enum"
)

const (
	LevelFlag  = "loglevel"
	FormatFlag = "logformat"
	FilterFlag = "logfilter"

	FormatText = "text"
	FormatJSON = "json"
)

func RegisterLoggingFlags(flags *pflag.FlagSet) {
	enum.Var(flags, LevelFlag, []string{
		"warn",
		"debug",
		"info",
		"error",
	}, "set the log level")
	enum.VarP(flags, FormatFlag, "f", []string{FormatText, FormatJSON}, "set the log format")
	flags.StringSlice(FilterFlag, nil, `minimum log level per realm, e.g. "cache=debug,lod=error"`)
}

// GetBaseLogger builds the logger selected by the logging flags. Realm filters given
// on the command line are merged over the ones passed in, which usually come from
// the configuration file.
func GetBaseLogger(cmd *cobra.Command, realms map[string]slog.Level) (*slog.Logger, error) {
	logLevel, err := GetLoggerLevel(cmd)
	if err != nil {
		return nil, err
	}

	format, err := enum.Get(cmd.Flags(), FormatFlag)
	if err != nil {
		return nil, err
	}

	filters := make(map[string]slog.Level, len(realms))
	for realm, level := range realms {
		filters[realm] = level
	}
	raw, err := cmd.Flags().GetStringSlice(FilterFlag)
	if err != nil {
		return nil, err
	}
	fromFlags, err := KeyFiltersFromStrings(raw...)
	if err != nil {
		return nil, err
	}
	for realm, level := range fromFlags {
		filters[realm] = level
	}

	// realm filters may be more verbose than the global level, so the base
	// handler accepts everything the most verbose filter asks for.
	minLevel := logLevel
	for _, level := range filters {
		minLevel = min(minLevel, level)
	}

	opts := &slog.HandlerOptions{Level: minLevel}
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	case FormatText:
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	if len(filters) > 0 || minLevel != logLevel {
		handler = New(handler, LoggingKeyRealm, logLevel, filters)
	}

	return slog.New(handler), nil
}

func GetLoggerLevel(cmd *cobra.Command) (slog.Level, error) {
	logLevel, err := enum.Get(cmd.Flags(), LevelFlag)
	if err != nil {
		return slog.LevelWarn, err
	}
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level: %s", logLevel)
	}
	return level, nil
}
