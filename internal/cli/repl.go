package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"memoai/internal/api"
	"memoai/internal/apperr"
	"memoai/internal/render"
	"memoai/internal/selection"
)

const replHelp = `Type a note and press enter to send it. Commands:
  /targets            list targets
  /use <id>           select a target
  /image <path>       attach a photo to the next send
  /discard            drop the attached photo
  /draft <text>       replace the draft
  /set name=value     set a database property
  /save [text]        save the draft (or text) to the target
  /entry <n>          save history entry #n
  /content            show existing entries
  /models             list models
  /model <id|auto>    pick the model
  /history            show the conversation
  /clear              clear the conversation
  /cost               show the session cost
  /quit               leave`

var errQuit = errors.New("quit")

func newReplCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive note session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr := rt.app.Config.MetricsAddr; addr != "" {
				stop := serveMetrics(addr, rt.app.Logger)
				defer stop()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, replHelp)
			printCurrent(cmd, rt)

			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 64*1024), 1024*1024)
			for {
				fmt.Fprint(out, "> ")
				if !sc.Scan() {
					fmt.Fprintln(out)
					return sc.Err()
				}
				if ctx.Err() != nil {
					return nil
				}
				err := replLine(cmd, rt, strings.TrimSpace(sc.Text()))
				if errors.Is(err, errQuit) {
					return nil
				}
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Error: "+err.Error())
				}
			}
		},
	}
	return remote(cmd)
}

func replLine(cmd *cobra.Command, rt *runtime, line string) error {
	if line == "" {
		return nil
	}
	o := rt.session()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if !strings.HasPrefix(line, "/") {
		o.SetDraft(ctx, line)
		if err := o.Send(ctx, line); err != nil {
			return err
		}
		printReply(cmd, rt)
		return nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprintln(out, replHelp)
	case "targets":
		fmt.Fprintln(out, render.Targets(o.Selection().Targets(), o.Selection().Current().ID))
	case "use":
		if err := o.SelectTarget(ctx, arg); err != nil {
			return err
		}
		printCurrent(cmd, rt)
	case "image":
		if arg == "" {
			return apperr.Validation("usage: /image <path>")
		}
		return stageImage(cmd, rt, arg)
	case "discard":
		o.DiscardImage()
	case "draft":
		o.SetDraft(ctx, arg)
	case "set":
		if err := applyFields(o.Selection().Form(), []string{arg}); err != nil {
			return err
		}
		fmt.Fprintln(out, render.Form(o.Selection().Form().Widgets()))
	case "save":
		if arg != "" {
			o.SetDraft(ctx, arg)
		}
		return o.SaveDraft(ctx)
	case "entry":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return apperr.Validation("usage: /entry <n>")
		}
		return o.SaveEntry(ctx, n-1)
	case "content":
		content, err := o.ViewContent(ctx)
		if err != nil {
			return err
		}
		if content.Type == api.KindDatabase {
			fmt.Fprintln(out, render.DatabaseTable(content))
		} else {
			fmt.Fprintln(out, render.PageBlocks(content.Blocks))
		}
	case "models":
		sel := o.Selection()
		fmt.Fprintln(out, render.Models(sel.Catalog(), sel.SelectedModel(), sel.ModelDisplay))
	case "model":
		id := arg
		if strings.EqualFold(id, selection.AutoModel) {
			id = ""
		}
		if err := o.Selection().SetModel(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Model: %s\n", o.Selection().ModelDisplay(id))
	case "history":
		show := o.Settings().ShowModelInfo(ctx)
		fmt.Fprintln(out, render.History(o.History().Entries(), show, o.Selection().ModelDisplay))
	case "clear":
		o.ClearSession(ctx)
	case "cost":
		fmt.Fprintln(out, render.Cost(o.Cost()))
	default:
		return apperr.Validation("unknown command /%s (try /help)", name)
	}
	return nil
}

// serveMetrics exposes /metrics until the returned stop func is called.
func serveMetrics(addr string, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to stop metrics server")
		}
	}
}
