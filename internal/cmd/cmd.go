package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremaih2/avatarsystem/internal/cmd/load"
	"github.com/jeremaih2/avatarsystem/internal/cmd/resolve"
	"github.com/jeremaih2/avatarsystem/internal/cmd/schema"
	"github.com/jeremaih2/avatarsystem/internal/cmd/setup"
	"github.com/jeremaih2/avatarsystem/internal/cmd/version"
	"github.com/jeremaih2/avatarsystem/internal/log"
)

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "avatarctl [sub-command]",
		Short: "Resolve, load and combine avatars",
		Long: `avatarctl drives the avatar composition pipeline outside of a running scene:
it resolves wearable ids against catalog documents, imports their assets and
combines them into a single skinned renderer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: setup.PreRunE,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	setup.RegisterConfigFlag(cmd)
	log.RegisterLoggingFlags(cmd.PersistentFlags())
	cmd.AddCommand(resolve.New())
	cmd.AddCommand(load.New())
	cmd.AddCommand(schema.New())
	cmd.AddCommand(version.New())
	return cmd
}
