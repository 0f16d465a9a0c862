// Package setup prepares the shared state of every avatarctl command: the
// configuration, the logger and the wearable catalog.
package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/jeremaih2/avatarsystem/catalog"
	"github.com/jeremaih2/avatarsystem/internal/config"
	"github.com/jeremaih2/avatarsystem/internal/log"
)

const (
	ConfigFlag    = "config"
	CatalogFlag   = "catalog"
	BodyShapeFlag = "body-shape"
)

type configKey struct{}

func RegisterConfigFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String(ConfigFlag, "", "path to an avatar.config/v1 configuration file")
}

// RegisterCatalogFlags adds the flags selecting the catalog document and the body shape.
func RegisterCatalogFlags(cmd *cobra.Command) {
	cmd.Flags().String(CatalogFlag, "", "catalog document serving every id not routed by the configuration")
	cmd.Flags().String(BodyShapeFlag, "", "id of the body shape to resolve against")
	_ = cmd.MarkFlagRequired(BodyShapeFlag)
}

// PreRunE loads the configuration and installs the logger on the command context.
func PreRunE(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString(ConfigFlag); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	realms, err := cfg.RealmFilters()
	if err != nil {
		return err
	}
	logger, err := log.GetBaseLogger(cmd, realms)
	if err != nil {
		return fmt.Errorf("could not retrieve logger: %w", err)
	}
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = slogcontext.NewCtx(ctx, logger)
	ctx = context.WithValue(ctx, configKey{}, cfg)
	cmd.SetContext(ctx)

	logger.Debug("configuration loaded",
		slog.String("realm", "cli"),
		slog.Int("sources", len(cfg.Catalog.Sources)),
	)
	return nil
}

// Config returns the configuration installed by PreRunE, or the defaults.
func Config(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

// Catalog builds the catalog of the command from the configured sources and the
// --catalog document.
func Catalog(cmd *cobra.Command) (catalog.Catalog, error) {
	cfg := Config(cmd.Context())

	var fallback []catalog.Route
	if path, _ := cmd.Flags().GetString(CatalogFlag); path != "" {
		doc, err := catalog.LoadDocument(path)
		if err != nil {
			return nil, err
		}
		fallback = append(fallback, catalog.Route{Pattern: "**", Catalog: doc.Catalog()})
	}
	if len(cfg.Catalog.Sources) == 0 && len(fallback) == 0 {
		return nil, fmt.Errorf("no catalog: pass --%s or configure catalog sources", CatalogFlag)
	}
	return cfg.BuildCatalog(fallback...)
}

func BodyShape(cmd *cobra.Command) (string, error) {
	return cmd.Flags().GetString(BodyShapeFlag)
}
