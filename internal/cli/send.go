package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"memoai/internal/api"
	"memoai/internal/apperr"
	"memoai/internal/chat"
	"memoai/internal/form"
	"memoai/internal/render"
)

func newSendCmd(rt *runtime) *cobra.Command {
	var imagePath string
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a note to the AI",
		Long: `Send a note, and optionally a photo, to the AI for the current target.
Without text the saved draft is sent. Photos are downscaled and re-encoded
as JPEG before upload.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := rt.session()
			ctx := cmd.Context()
			text := strings.Join(args, " ")
			if text == "" {
				text = o.Draft(ctx)
			}
			if imagePath != "" {
				if err := stageImage(cmd, rt, imagePath); err != nil {
					return err
				}
			}
			if err := o.Send(ctx, text); err != nil {
				return err
			}
			printReply(cmd, rt)
			return nil
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Attach a photo (jpeg, png, gif or webp)")
	return remote(cmd)
}

func stageImage(cmd *cobra.Command, rt *runtime, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	_, err = rt.session().StageImage(cmd.Context(), f)
	return err
}

// printReply shows the AI reply and, for databases, the autofilled form.
func printReply(cmd *cobra.Command, rt *runtime) {
	o := rt.session()
	out := cmd.OutOrStdout()
	entries := o.History().Entries()
	if n := len(entries); n > 0 && entries[n-1].Kind == chat.KindAI {
		show := o.Settings().ShowModelInfo(cmd.Context())
		fmt.Fprintln(out, render.HistoryTail(entries, 1, show, o.Selection().ModelDisplay))
	}
	if o.Selection().Current().Kind == api.KindDatabase {
		fmt.Fprintln(out, render.Form(o.Selection().Form().Widgets()))
	}
	fmt.Fprintln(out, render.Cost(o.Cost()))
}

func newDraftCmd(rt *runtime) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "draft [text...]",
		Short: "Show or replace the saved draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			o := rt.session()
			ctx := cmd.Context()
			switch {
			case discard:
				o.Settings().ClearDraft(ctx)
			case len(args) > 0:
				o.SetDraft(ctx, strings.Join(args, " "))
			default:
				fmt.Fprintln(cmd.OutOrStdout(), o.Draft(ctx))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&discard, "clear", false, "Discard the draft")
	return local(cmd)
}

func newSaveCmd(rt *runtime) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "save [text...]",
		Short: "Save the draft to the current target",
		Long: `Save the draft, or the given text, to the current target. Database
properties are set with --set name=value; multi-select values are comma
separated and checkboxes take true or false.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o := rt.session()
			ctx := cmd.Context()
			if len(args) > 0 {
				o.SetDraft(ctx, strings.Join(args, " "))
			}
			if err := applyFields(o.Selection().Form(), fields); err != nil {
				return err
			}
			return o.SaveDraft(ctx)
		},
	}
	cmd.Flags().StringArrayVar(&fields, "set", nil, "Set a property, name=value (repeatable)")
	return remote(cmd)
}

func applyFields(f *form.Form, sets []string) error {
	for _, kv := range sets {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return apperr.Validation("--set expects name=value, got %q", kv)
		}
		w, found := f.Widget(name)
		if !found {
			return apperr.Validation("unknown property %q", name)
		}
		var err error
		switch w.Kind {
		case form.WidgetChoice:
			values := []string{value}
			if w.Multiple() {
				values = strings.Split(value, ",")
			}
			err = f.Choose(name, values...)
		case form.WidgetDate:
			err = f.SetDate(name, value)
		case form.WidgetCheckbox:
			on, perr := strconv.ParseBool(value)
			if perr != nil {
				return apperr.Validation("%s expects true or false", name)
			}
			err = f.SetChecked(name, on)
		default:
			err = f.SetText(name, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func newSaveEntryCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save-entry <n>",
		Short: "Save history entry #n to the current target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return apperr.Validation("entry number must be a positive integer")
			}
			return rt.session().SaveEntry(cmd.Context(), n-1)
		},
	}
	return remote(cmd)
}
