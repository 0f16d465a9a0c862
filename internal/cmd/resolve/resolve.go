package resolve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/jeremaih2/avatarsystem/internal/cmd/setup"
	"github.com/jeremaih2/avatarsystem/internal/enum"
	"github.com/jeremaih2/avatarsystem/resolver"
)

const (
	FlagOutput = "output"

	OutputFormatTable = "table"
	OutputFormatYAML  = "yaml"
	OutputFormatJSON  = "json"
)

// View is the serialized form of an equip set.
type View struct {
	BodyShape string   `json:"bodyShape"`
	Wearables []Entry  `json:"wearables"`
	Emotes    []Entry  `json:"emotes,omitempty"`
	Hidden    []string `json:"hidden"`
}

type Entry struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

func NewView(set *resolver.EquipSet) View {
	v := View{BodyShape: set.BodyShape.ID, Wearables: []Entry{}, Hidden: []string{}}
	for _, w := range set.Wearables {
		v.Wearables = append(v.Wearables, Entry{ID: w.ID, Category: string(w.Category)})
	}
	for _, e := range set.Emotes {
		v.Emotes = append(v.Emotes, Entry{ID: e.ID, Category: string(e.Category)})
	}
	for _, c := range set.Hidden.Sorted() {
		v.Hidden = append(v.Hidden, string(c))
	}
	return v
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [wearable ids...]",
		Short: "Resolve wearable ids into the equipped set of an avatar",
		Long: `Resolve looks up every wearable id in the catalog, drops wearables that do not
support the body shape, applies hiding rules and prints the surviving equip order.`,
		Example: `  avatarctl resolve --catalog catalog.yaml --body-shape urn:decentraland:off-chain:base-avatars:BaseFemale \
    urn:decentraland:off-chain:base-avatars:hat urn:decentraland:off-chain:base-avatars:hair`,
		RunE:              Resolve,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	setup.RegisterCatalogFlags(cmd)
	cmd.Flags().Int("fetch-concurrency", 0, "concurrent catalog lookups, overriding the configuration")
	enum.VarP(cmd.Flags(), FlagOutput, "o", []string{OutputFormatTable, OutputFormatYAML, OutputFormatJSON}, "output format of the equip set")
	return cmd
}

func Resolve(cmd *cobra.Command, args []string) error {
	c, err := setup.Catalog(cmd)
	if err != nil {
		return err
	}
	bodyShape, err := setup.BodyShape(cmd)
	if err != nil {
		return err
	}

	opts := setup.Config(cmd.Context()).SystemOptions().Resolver
	if n, _ := cmd.Flags().GetInt("fetch-concurrency"); n > 0 {
		opts.FetchConcurrency = n
	}

	output, err := enum.Get(cmd.Flags(), FlagOutput)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}

	set, err := resolver.New(c, opts).Resolve(cmd.Context(), args, bodyShape)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}

	switch output {
	case OutputFormatJSON:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(NewView(set))
	case OutputFormatYAML:
		data, err := yaml.Marshal(NewView(set))
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	default:
		return Render(cmd, set)
	}
}

// Render prints the equip set as a table followed by the hidden categories.
func Render(cmd *cobra.Command, set *resolver.EquipSet) error {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"#", "ID", "Category"})
	t.AppendRow(table.Row{0, set.BodyShape.ID, set.BodyShape.Category})
	for i, w := range set.Wearables {
		t.AppendRow(table.Row{i + 1, w.ID, w.Category})
	}
	for _, e := range set.Emotes {
		t.AppendRow(table.Row{"-", e.ID, e.Category})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	hidden := make([]string, 0, len(set.Hidden))
	for _, c := range set.Hidden.Sorted() {
		hidden = append(hidden, string(c))
	}
	if len(hidden) == 0 {
		hidden = append(hidden, "none")
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "\nhidden: %s\n", strings.Join(hidden, ", "))
	return err
}
