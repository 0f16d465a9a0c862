package load

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/jeremaih2/avatarsystem/asset"
	"github.com/jeremaih2/avatarsystem/assetcache"
	"github.com/jeremaih2/avatarsystem/avatar"
	"github.com/jeremaih2/avatarsystem/combiner"
	"github.com/jeremaih2/avatarsystem/internal/cmd/setup"
)

const (
	AssetsFlag    = "assets"
	SkinColorFlag = "skin-color"
	HairColorFlag = "hair-color"
	EyesColorFlag = "eyes-color"
	TimeoutFlag   = "timeout"

	avatarID = "avatarctl"
)

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load [wearable ids...]",
		Short: "Load and combine an avatar from a catalog and an asset directory",
		Long: `Load runs the whole avatar pipeline: it resolves the wearable ids, imports every
referenced asset manifest from the asset directory, combines them into one skinned
renderer and prints a summary of the result.

Asset manifests are stored under their content hash. Digest hashes such as
sha256:<hex> are read from <algorithm>/<hex> and verified.`,
		Example: `  avatarctl load --catalog catalog.yaml --assets ./contents \
    --body-shape urn:decentraland:off-chain:base-avatars:BaseFemale --skin-color "#f2c29b" \
    urn:decentraland:off-chain:base-avatars:hat`,
		RunE:              Load,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	setup.RegisterCatalogFlags(cmd)
	cmd.Flags().String(AssetsFlag, "", "directory holding the asset manifests")
	cmd.Flags().String(SkinColorFlag, "", "skin color as #rrggbb")
	cmd.Flags().String(HairColorFlag, "", "hair color as #rrggbb")
	cmd.Flags().String(EyesColorFlag, "", "eyes color as #rrggbb")
	cmd.Flags().Duration(TimeoutFlag, time.Minute, "time allowed for the whole load, 0 disables the timeout")
	_ = cmd.MarkFlagRequired(AssetsFlag)
	return cmd
}

func Load(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "cli"))

	c, err := setup.Catalog(cmd)
	if err != nil {
		return err
	}
	settings, err := settingsFromFlags(cmd)
	if err != nil {
		return err
	}
	dir, err := cmd.Flags().GetString(AssetsFlag)
	if err != nil {
		return err
	}
	if info, err := os.Stat(dir); err != nil {
		return fmt.Errorf("asset directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("asset directory %q is not a directory", dir)
	}
	timeout, err := cmd.Flags().GetDuration(TimeoutFlag)
	if err != nil {
		return err
	}

	opts := setup.Config(ctx).SystemOptions()
	opts.Reporter = avatar.LogReporter{}
	system, err := avatar.NewSystem(ctx, c, asset.NewFileImporter(os.DirFS(dir)), opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := system.Close(); err != nil {
			logger.Warn("failed to close avatar system", slog.String("error", err.Error()))
		}
	}()

	a, err := system.NewAvatar(avatarID)
	if err != nil {
		return err
	}

	loadCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeoutCause(ctx, timeout, fmt.Errorf("load did not finish within %s", timeout))
		defer cancel()
	}
	start := time.Now()
	if err := a.Load(loadCtx, args, settings); err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	logger.Info("avatar loaded", slog.Duration("duration", time.Since(start)))

	system.UpdateQuality(ctx)
	return Render(cmd.OutOrStdout(), a, system.Cache().Stats())
}

func settingsFromFlags(cmd *cobra.Command) (avatar.Settings, error) {
	bodyShape, err := setup.BodyShape(cmd)
	if err != nil {
		return avatar.Settings{}, err
	}
	settings := avatar.Settings{PlayerName: avatarID, BodyShapeID: bodyShape}
	for flag, dst := range map[string]*combiner.Color{
		SkinColorFlag: &settings.SkinColor,
		HairColorFlag: &settings.HairColor,
		EyesColorFlag: &settings.EyesColor,
	} {
		raw, err := cmd.Flags().GetString(flag)
		if err != nil {
			return avatar.Settings{}, err
		}
		if raw == "" {
			continue
		}
		color, err := combiner.ParseHexColor(raw)
		if err != nil {
			return avatar.Settings{}, fmt.Errorf("--%s: %w", flag, err)
		}
		*dst = color
	}
	return settings, nil
}

// Render prints the combined renderer and the asset cache counters.
func Render(out io.Writer, a *avatar.Avatar, stats assetcache.Stats) error {
	r := a.Renderer()
	if r == nil {
		return fmt.Errorf("avatar %s has no renderer", a.ID())
	}

	style := table.StyleLight
	style.Options.DrawBorder = false

	meshes := table.NewWriter()
	meshes.SetOutputMirror(out)
	meshes.AppendHeader(table.Row{"Wearable", "Mesh", "Material", "Vertices"})
	for _, sm := range r.SubMeshes {
		material := "-"
		if sm.Material >= 0 {
			material = r.Materials[sm.Material].Name
			if c := r.Materials[sm.Material].Color; c != nil {
				material += " " + c.Hex()
			}
		}
		meshes.AppendRow(table.Row{sm.Wearable, sm.Mesh, material, sm.Vertices})
	}
	meshes.SetColumnConfigs([]table.ColumnConfig{{Number: 1, AutoMerge: true}})
	meshes.SetStyle(style)
	meshes.Render()

	bones := 0
	if r.Skeleton != nil {
		bones = len(r.Skeleton.Bones)
	}
	extents := r.Extents()
	if _, err := fmt.Fprintf(out, "\nstatus: %s, tier: %s, sub-meshes: %d, materials: %d, bones: %d, vertices: %d, extents: %.2fx%.2fx%.2f\n\n",
		a.Status(), a.Tier(), len(r.SubMeshes), len(r.Materials), bones, r.VertexCount, extents[0], extents[1], extents[2]); err != nil {
		return err
	}

	cache := table.NewWriter()
	cache.SetOutputMirror(out)
	cache.AppendHeader(table.Row{"Entries", "Parked", "Hits", "Misses", "Shares", "Failures", "Evictions"})
	cache.AppendRow(table.Row{stats.Entries, stats.Parked, stats.Hits, stats.Misses, stats.Shares, stats.Failures, stats.Evictions})
	cache.SetStyle(style)
	cache.Render()
	return nil
}
