package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"memoai/internal/storage"
)

// keyNamespace prefixes every key the session writes.
const keyNamespace = "memo_ai_"

var errSealingDisabled = errors.New("local store encryption is not enabled (set MASTER_KEY_B64 or MASTER_KEYS_JSON)")

func newRotateKeysCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate-keys",
		Short: "Re-encrypt the local store under the current master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sealed, ok := rt.app.Store.(*storage.SealedStore)
			if !ok {
				return errSealingDisabled
			}
			ctx := cmd.Context()
			keys, err := sealed.Keys(ctx, keyNamespace)
			if err != nil {
				return fmt.Errorf("list keys: %w", err)
			}
			n, err := sealed.Rotate(ctx, keys)
			if err != nil {
				return fmt.Errorf("rotate after %d entries: %w", n, err)
			}
			rt.app.Logger.Info().Int("entries", n).Msg("store re-encrypted")
			fmt.Fprintf(cmd.OutOrStdout(), "Re-encrypted %d entries\n", n)
			return nil
		},
	}
	return local(cmd)
}
