package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"memoai/internal/api"
	"memoai/internal/render"
)

func newTargetsCmd(rt *runtime) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List workspace databases and pages",
		Long: `List the databases and pages notes can be sent to. The list is cached
locally for a few minutes; use --refresh to fetch it again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel := rt.session().Selection()
			targets := sel.Targets()
			if refresh {
				var err error
				if targets, err = sel.ReloadTargets(cmd.Context()); err != nil {
					return fmt.Errorf("failed to load targets: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Targets(targets, sel.Current().ID))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the local cache")
	return remote(cmd)
}

func newUseCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <target-id>",
		Short: "Select the target notes are saved to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := rt.session()
			if err := o.SelectTarget(cmd.Context(), args[0]); err != nil {
				return err
			}
			printCurrent(cmd, rt)
			return nil
		},
	}
	return remote(cmd)
}

func printCurrent(cmd *cobra.Command, rt *runtime) {
	cur := rt.session().Selection().Current()
	out := cmd.OutOrStdout()
	if cur.ID == "" {
		fmt.Fprintln(out, "No target selected")
		return
	}
	fmt.Fprintf(out, "Target: %s (%s)\n", cur.Title, cur.Kind)
	if cur.Kind == api.KindDatabase {
		fmt.Fprintln(out, render.Form(rt.session().Selection().Form().Widgets()))
	}
}

func newContentCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Show the current target's existing entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, err := rt.session().ViewContent(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if content.Type == api.KindDatabase {
				fmt.Fprintln(out, render.DatabaseTable(content))
				return nil
			}
			fmt.Fprintln(out, render.PageBlocks(content.Blocks))
			return nil
		},
	}
	return remote(cmd)
}

func newNewPageCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new-page <name>",
		Short: "Create a workspace page and select it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := rt.session().CreatePage(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s\n", page.Title, page.URL)
			printCurrent(cmd, rt)
			return nil
		},
	}
	return remote(cmd)
}
