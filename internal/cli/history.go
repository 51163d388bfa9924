package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"memoai/internal/chat"
	"memoai/internal/render"
)

func newHistoryCmd(rt *runtime) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := rt.session()
			entries := o.History().Entries()
			show := o.Settings().ShowModelInfo(cmd.Context())
			if last > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), render.HistoryTail(entries, last, show, nil))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.History(entries, show, nil))
			return nil
		},
	}
	cmd.Flags().IntVarP(&last, "last", "n", 0, "Only show the last n entries")
	cmd.AddCommand(newHistoryExportCmd(rt))
	return local(cmd)
}

type exportedEntry struct {
	Index      int            `json:"index" yaml:"index"`
	Kind       string         `json:"type" yaml:"type"`
	Text       string         `json:"text" yaml:"text"`
	Time       string         `json:"time" yaml:"time"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Model      string         `json:"model,omitempty" yaml:"model,omitempty"`
	Cost       float64        `json:"cost,omitempty" yaml:"cost,omitempty"`
	Tokens     int            `json:"tokens,omitempty" yaml:"tokens,omitempty"`
}

func exportEntries(entries []chat.Entry) []exportedEntry {
	out := make([]exportedEntry, 0, len(entries))
	for i, e := range entries {
		x := exportedEntry{
			Index: i + 1,
			Kind:  string(e.Kind),
			Text:  e.Plain(),
			Time:  e.Time().UTC().Format(time.RFC3339),
		}
		if len(e.Properties) > 0 {
			_ = json.Unmarshal(e.Properties, &x.Properties)
		}
		if e.ModelInfo != nil {
			x.Model = e.ModelInfo.Model
			x.Cost = e.ModelInfo.Cost
			if e.ModelInfo.Usage != nil {
				x.Tokens = e.ModelInfo.Usage.TotalTokens
			}
		}
		out = append(out, x)
	}
	return out
}

func writeExport(w io.Writer, format string, entries []exportedEntry) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(entries)
	default:
		return fmt.Errorf("unsupported format: %s (supported: json, yaml)", format)
	}
}

func newHistoryExportCmd(rt *runtime) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the conversation as json or yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := exportEntries(rt.session().History().Entries())
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return writeExport(w, format, entries)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (json, yaml)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to a file instead of stdout")
	return local(cmd)
}

func newClearCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt.session().ClearSession(cmd.Context())
			return nil
		},
	}
	return local(cmd)
}
