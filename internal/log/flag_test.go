package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func runWithLogger(t *testing.T, realms map[string]slog.Level, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{
		Use:          "test",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := GetBaseLogger(cmd, realms)
			if err != nil {
				return err
			}
			logger.Debug("debug message", LoggingKeyRealm, "cache")
			logger.Info("info message", LoggingKeyRealm, "lod")
			logger.Warn("warn message", LoggingKeyRealm, "lod")
			return nil
		},
	}
	RegisterLoggingFlags(cmd.PersistentFlags())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGetBaseLogger(t *testing.T) {
	t.Run("defaults to warn and text", func(t *testing.T) {
		r := require.New(t)
		out, err := runWithLogger(t, nil)
		r.NoError(err)
		r.Contains(out, "level=WARN")
		r.NotContains(out, "info message")
		r.NotContains(out, "debug message")
	})

	t.Run("json format and info level", func(t *testing.T) {
		r := require.New(t)
		out, err := runWithLogger(t, nil, "--loglevel", "info", "--logformat", "json")
		r.NoError(err)
		r.Contains(out, `"msg":"info message"`)
		r.NotContains(out, "debug message")
	})

	t.Run("configured realms are overridden by flags", func(t *testing.T) {
		r := require.New(t)
		realms := map[string]slog.Level{"cache": slog.LevelError, "lod": slog.LevelError}
		out, err := runWithLogger(t, realms, "--logfilter", "cache=debug")
		r.NoError(err)
		r.Contains(out, "debug message")
		r.NotContains(out, "warn message")
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		r := require.New(t)
		_, err := runWithLogger(t, nil, "--loglevel", "loud")
		r.ErrorContains(err, "must be one of")
		_, err = runWithLogger(t, nil, "--logfilter", "cache")
		r.ErrorContains(err, "expected key=value")
	})
}
