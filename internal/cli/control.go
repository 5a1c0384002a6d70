package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <campaign-id>",
		Short: "Run one campaign in the foreground until it finishes; interrupt pauses it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, closeApp, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer closeApp()

			if _, err := app.EnsureSettings(ctx); err != nil {
				return err
			}
			e, err := app.Engine(ctx)
			if err != nil {
				return err
			}
			run, err := e.Start(ctx, args[0])
			if err != nil {
				return err
			}
			select {
			case <-run.Done:
			case <-ctx.Done():
				pauseCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if _, err := e.Pause(pauseCtx, args[0]); err != nil {
					opts.log().Warn("pause on interrupt failed", zap.Error(err))
				}
				<-run.Done
			}

			c, err := app.Store.LoadCampaign(context.WithoutCancel(ctx), args[0])
			if err != nil {
				return err
			}
			printCampaign(cmd.OutOrStdout(), c, false)
			return nil
		},
	}
}

// newControlCmd builds start, pause and stop. With --server the request goes
// to a running API; otherwise pause and stop write the status directly and
// the owning loop exits on its next reload.
func newControlCmd(opts *rootOptions, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <campaign-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if strings.TrimSpace(opts.server) != "" {
				body, err := remoteControl(cmd.Context(), opts.server, id, action)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
				return nil
			}
			if action == "start" {
				return fmt.Errorf("start needs a running engine: use --server or the run command")
			}

			app, closeApp, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer closeApp()

			status := state.StatusPaused
			if action == "stop" {
				status = state.StatusStopped
			}
			c, err := app.SetStatus(cmd.Context(), id, status)
			if err != nil {
				return err
			}
			printCampaign(cmd.OutOrStdout(), c, false)
			return nil
		},
	}
}

func remoteControl(ctx context.Context, server, id, action string) ([]byte, error) {
	url := strings.TrimRight(server, "/") + "/campaigns/" + id + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, id, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s %s: %s (HTTP %d)", action, id, apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: HTTP %d", action, id, resp.StatusCode)
	}
	return body, nil
}
