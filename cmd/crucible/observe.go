package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/crucible/internal/bridge"
	"github.com/kingrea/crucible/internal/config"
	"github.com/kingrea/crucible/internal/logging"
	"github.com/kingrea/crucible/internal/observer"
	"github.com/kingrea/crucible/internal/tui"
)

const tailInterval = time.Second

func newObserveCmd() *cobra.Command {
	var (
		projectDir string
		bridgeURL  string
		projectID  int64
		dev        bool
	)
	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Attach a read-only dashboard to a running bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObserve(cmd.Context(), projectDir, bridgeURL, projectID, dev)
		},
	}
	cmd.Flags().StringVar(&projectDir, "project", "", "project directory (defaults to cwd)")
	cmd.Flags().StringVar(&bridgeURL, "url", "", "bridge base URL (defaults to the configured bridge address)")
	cmd.Flags().Int64Var(&projectID, "project-id", 0, "project id (defaults to the configured project)")
	cmd.Flags().BoolVar(&dev, "dev", false, "verbose development logging")
	return cmd
}

func runObserve(ctx context.Context, projectDir, bridgeURL string, projectID int64, dev bool) error {
	projectDir, err := resolveProjectDir(projectDir)
	if err != nil {
		return err
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return err
	}
	if bridgeURL == "" {
		bridgeURL = bridge.SettingsFromConfig(cfg).URL()
	}
	if projectID == 0 {
		projectID = cfg.ProjectID()
	}
	log, err := logging.New(projectDir, dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := bridge.NewClient(bridgeURL)
	if err != nil {
		return err
	}
	controller, err := observer.NewController(projectID, client)
	if err != nil {
		return err
	}
	loop, err := observer.NewLoop(observer.NewMapper(log), controller, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan map[string]any, 64)
	reconnects := make(chan struct{}, 1)
	go tailBridge(ctx, client, projectID, events, reconnects, log)
	go func() {
		if err := loop.Run(ctx, events, reconnects); err != nil && ctx.Err() == nil {
			log.Error("observer loop stopped", zap.Error(err))
		}
	}()

	program := tea.NewProgram(tui.NewDashboard(projectID, loop), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}

// tailBridge polls the journal tail and feeds raw events to the observer
// loop. After a failed poll it signals a reconnect once the bridge answers
// again, so the loop resynchronizes before consuming further events.
func tailBridge(ctx context.Context, client *bridge.Client, projectID int64, events chan<- map[string]any, reconnects chan<- struct{}, log *zap.Logger) {
	var since int64
	disconnected := false
	ticker := time.NewTicker(tailInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		entries, lastSeq, err := client.Tail(ctx, since)
		if err != nil {
			if !disconnected {
				log.Warn("bridge unreachable", zap.Error(err))
				disconnected = true
			}
			continue
		}
		if disconnected {
			disconnected = false
			select {
			case reconnects <- struct{}{}:
			default:
			}
		}
		for _, entry := range entries {
			if entry.Event.ProjectID != projectID {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case events <- entry.Event.Raw():
			}
		}
		since = lastSeq
	}
}
