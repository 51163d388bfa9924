package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"memoai/internal/apperr"
)

const (
	toggleModelInfo = "model-info"
	toggleReference = "reference"
)

func newToggleCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <model-info|reference> [on|off]",
		Short: "Flip a display or send preference",
		Long: `Flip a preference, or set it explicitly with on/off.

  model-info  show model, cost and tokens under AI replies
  reference   send the current target's existing entries as context`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{toggleModelInfo, toggleReference},
		RunE: func(cmd *cobra.Command, args []string) error {
			set := rt.session().Settings()
			ctx := cmd.Context()

			var current bool
			switch args[0] {
			case toggleModelInfo:
				current = set.ShowModelInfo(ctx)
			case toggleReference:
				current = set.ReferencePage(ctx)
			default:
				return apperr.Validation("unknown preference %q", args[0])
			}

			next := !current
			if len(args) == 2 {
				v, err := parseSwitch(args[1])
				if err != nil {
					return err
				}
				next = v
			}

			if args[0] == toggleModelInfo {
				set.SetShowModelInfo(ctx, next)
			} else {
				set.SetReferencePage(ctx, next)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], onOff(next))
			return nil
		},
	}
	return local(cmd)
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, apperr.Validation("expected on or off, got %q", s)
	}
	return v, nil
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func newDebugCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print backend diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := rt.app.Client.Debug(cmd.Context())
			if err != nil {
				return fmt.Errorf("debug info: %w", err)
			}
			b, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	return local(cmd)
}
