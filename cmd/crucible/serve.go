package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/crucible/internal/bridge"
	"github.com/kingrea/crucible/internal/config"
	"github.com/kingrea/crucible/internal/event"
	"github.com/kingrea/crucible/internal/journal"
	"github.com/kingrea/crucible/internal/logging"
	"github.com/kingrea/crucible/internal/model"
	"github.com/kingrea/crucible/internal/pool"
	"github.com/kingrea/crucible/internal/store"
)

// taskSpec is one entry in a --tasks YAML file.
type taskSpec struct {
	ID        int64   `yaml:"id"`
	Title     string  `yaml:"title"`
	DependsOn []int64 `yaml:"depends_on,omitempty"`
}

func newServeCmd() *cobra.Command {
	var (
		projectDir string
		tasksFile  string
		dev        bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator and HTTP bridge for the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), projectDir, tasksFile, dev)
		},
	}
	cmd.Flags().StringVar(&projectDir, "project", "", "project directory (defaults to cwd)")
	cmd.Flags().StringVar(&tasksFile, "tasks", "", "YAML file with the initial task graph")
	cmd.Flags().BoolVar(&dev, "dev", false, "verbose development logging")
	return cmd
}

func runServe(ctx context.Context, projectDir, tasksFile string, dev bool) error {
	projectDir, err := resolveProjectDir(projectDir)
	if err != nil {
		return err
	}
	if err := config.InitCrucibleDir(projectDir); err != nil {
		return fmt.Errorf("init %s: %w", config.CrucibleDir, err)
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return err
	}
	log, err := logging.New(projectDir, dev)
	if err != nil {
		return err
	}
	defer log.Sync()

	jnl, err := journal.Open(cfg.JournalDir())
	if err != nil {
		return err
	}
	router := bridge.NewRouter(bridge.RouterWithLogger(log))
	encoder := event.NewEncoder(cfg.ProjectID(), []event.Sink{jnl, router})
	st := store.NewMemory()

	coord, err := pool.New(cfg.ProjectID(), st, encoder, log,
		pool.WithCapacity(cfg.PoolCapacity()),
		pool.WithRetireAfter(cfg.RetireAfter()),
		pool.WithRetryBudget(cfg.RetryBudget()),
	)
	if err != nil {
		return err
	}

	if tasksFile != "" {
		count, err := loadTasks(coord, cfg.ProjectID(), tasksFile)
		if err != nil {
			return err
		}
		log.Info("loaded task graph", zap.Int("tasks", count), zap.String("file", tasksFile))
		coord.Dispatch()
	}

	settings := bridge.SettingsFromConfig(cfg)
	server, err := bridge.NewServer(settings, st, jnl, router, log)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}
	log.Info("serving", zap.String("url", server.BaseURL()), zap.Int64("project_id", cfg.ProjectID()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-stop:
	}
	log.Info("shutting down")
	return server.Shutdown(nil)
}

// loadTasks reads the task graph file and feeds every task to the
// coordinator. Order in the file does not matter.
func loadTasks(coord *pool.Coordinator, projectID int64, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read tasks: %w", err)
	}
	var specs []taskSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return 0, fmt.Errorf("parse tasks: %w", err)
	}
	for _, spec := range specs {
		if spec.ID == 0 || spec.Title == "" {
			return 0, fmt.Errorf("tasks: every entry needs an id and a title")
		}
		coord.AddTask(model.Task{
			ID:        spec.ID,
			ProjectID: projectID,
			Title:     spec.Title,
			Status:    model.TaskPending,
			BlockedBy: spec.DependsOn,
		})
	}
	return len(specs), nil
}

func resolveProjectDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}
