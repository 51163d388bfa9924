package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"memoai/internal/apperr"
)

func newPromptCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Show or edit the system prompt of the current target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cur := rt.session().Selection().Current()
			if !cur.CanEditSettings() {
				return apperr.Validation("select a target first")
			}
			origin := "default"
			if cur.PromptOverride {
				origin = "custom"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s (%s)\n%s\n", cur.Title, origin, cur.Prompt)
			return nil
		},
	}
	cmd.AddCommand(newPromptSetCmd(rt), newPromptResetCmd(rt))
	return remote(cmd)
}

func newPromptSetCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <text...>",
		Short: "Override the system prompt for the current target",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := rt.session()
			cur := o.Selection().Current()
			if !cur.CanEditSettings() {
				return apperr.Validation("select a target first")
			}
			ctx := cmd.Context()
			if o.Settings().SetPrompt(ctx, cur.ID, strings.Join(args, " ")) {
				fmt.Fprintln(cmd.OutOrStdout(), "Prompt saved")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Prompt matches the default; override removed")
			}
			o.Selection().RefreshPrompt(ctx)
			return nil
		},
	}
	return remote(cmd)
}

func newPromptResetCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return the current target to the default prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := rt.session()
			cur := o.Selection().Current()
			if !cur.CanEditSettings() {
				return apperr.Validation("select a target first")
			}
			o.Settings().ResetPrompt(cmd.Context(), cur.ID)
			o.Selection().RefreshPrompt(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Prompt reset to default")
			return nil
		},
	}
	return remote(cmd)
}
