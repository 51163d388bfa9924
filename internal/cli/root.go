package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"memoai/internal/config"
	"memoai/internal/render"
	"memoai/internal/session"
)

// Commands carry one of these under annotationSession. Remote commands
// restore the full session (targets, last target, model catalog); local
// ones only need persisted history and settings.
const (
	annotationSession = "session"
	sessionLocal      = "local"
	sessionRemote     = "remote"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Opener builds the App for a command run.
type Opener func(ctx context.Context) (*App, error)

type runtime struct {
	open Opener
	app  *App
}

func (rt *runtime) session() *session.Orchestrator {
	return rt.app.Session
}

func (rt *runtime) close() {
	if rt.app != nil {
		_ = rt.app.Close()
	}
}

// NewRootCmd builds the command tree. Every command that touches the
// session gets its App from open.
func NewRootCmd(open Opener) *cobra.Command {
	rt := &runtime{open: open}
	return newRootCmd(rt)
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:   "memo",
		Short: "Turn quick notes into structured workspace entries with AI",
		Long: `memo sends short notes (and optionally a photo) to the memo AI backend,
which turns them into structured properties for a workspace database or page.

Quick Start:
  memo targets                  # List databases and pages
  memo use <target-id>          # Pick where notes go
  memo send "lunch with Ana"    # Ask the AI, fills the properties
  memo save                     # Store the draft in the workspace
  memo repl                     # Interactive session`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			mode, ok := cmd.Annotations[annotationSession]
			if !ok {
				return nil
			}
			app, err := rt.open(cmd.Context())
			if err != nil {
				return err
			}
			rt.app = app
			subscribe(app.Session, cmd.ErrOrStderr())

			ctx := cmd.Context()
			if mode == sessionRemote {
				app.Session.Start(ctx)
			} else {
				app.Session.History().Load(ctx)
			}
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newTargetsCmd(rt),
		newUseCmd(rt),
		newContentCmd(rt),
		newNewPageCmd(rt),
		newSendCmd(rt),
		newDraftCmd(rt),
		newSaveCmd(rt),
		newSaveEntryCmd(rt),
		newHistoryCmd(rt),
		newClearCmd(rt),
		newModelsCmd(rt),
		newPromptCmd(rt),
		newToggleCmd(rt),
		newDebugCmd(rt),
		newRotateKeysCmd(rt),
		newReplCmd(rt),
	)
	return root
}

// Execute runs the command line against the configured store.
func Execute(ctx context.Context, cfg config.Config, logger zerolog.Logger) {
	rt := &runtime{open: func(ctx context.Context) (*App, error) {
		return OpenApp(ctx, cfg, logger)
	}}
	root := newRootCmd(rt)
	err := root.ExecuteContext(ctx)
	rt.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func remote(cmd *cobra.Command) *cobra.Command {
	cmd.Annotations = map[string]string{annotationSession: sessionRemote}
	return cmd
}

func local(cmd *cobra.Command) *cobra.Command {
	cmd.Annotations = map[string]string{annotationSession: sessionLocal}
	return cmd
}

// subscribe prints toasts and visible status changes. Events also arrive
// from the status hide timer, so writes are serialized.
func subscribe(o *session.Orchestrator, w io.Writer) {
	var mu sync.Mutex
	o.Subscribe(func(e session.Event) {
		var line string
		switch e.Kind {
		case session.EventToast:
			line = render.Toast(e.Toast)
		case session.EventStatus:
			line = render.Status(e.Status)
		}
		if line == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	})
}
