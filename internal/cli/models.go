package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"memoai/internal/render"
	"memoai/internal/selection"
)

func newModelsCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List AI models and the current choice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel := rt.session().Selection()
			fmt.Fprintln(cmd.OutOrStdout(), render.Models(sel.Catalog(), sel.SelectedModel(), sel.ModelDisplay))
			return nil
		},
	}
	cmd.AddCommand(newModelSetCmd(rt))
	return remote(cmd)
}

func newModelSetCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <model-id|auto>",
		Short: "Pick the model used for sends",
		Long: `Pick the model used for sends. "auto" lets the backend defaults decide,
using the vision default when a photo is attached.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := rt.session().Selection()
			id := args[0]
			if strings.EqualFold(id, selection.AutoModel) {
				id = ""
			}
			if err := sel.SetModel(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model: %s\n", sel.ModelDisplay(id))
			return nil
		},
	}
	return remote(cmd)
}
