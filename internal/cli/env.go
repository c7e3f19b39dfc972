package cli

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"workshopdl/internal/config"
	"workshopdl/internal/history"
	"workshopdl/internal/install"
	"workshopdl/internal/logx"
	"workshopdl/internal/paths"
	"workshopdl/internal/pipeline"
	"workshopdl/internal/queue"
	"workshopdl/internal/steamcmd"
	"workshopdl/internal/tools"
)

// appEnv bundles what every command resolves first: paths, configuration
// and the file logger.
type appEnv struct {
	paths  paths.AppPaths
	cfg    config.Config
	logger *zap.Logger
	closer io.Closer
}

func loadEnv() (*appEnv, error) {
	ap, err := paths.Resolve(homeDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ap.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", ap.ConfigFile, err)
	}
	ap = paths.ApplyConfig(ap, cfg)
	if err := ap.EnsureDirs(); err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger, closer, err := logx.New(ap, level)
	if err != nil {
		return nil, err
	}
	logger.Info("workshopdl started", zap.String("root", ap.Root), zap.String("config", ap.ConfigFile))
	return &appEnv{paths: ap, cfg: cfg, logger: logger, closer: closer}, nil
}

func (e *appEnv) Close() {
	_ = e.logger.Sync()
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

// requireConfigured rejects submissions until a valid installation folder is
// set.
func (e *appEnv) requireConfigured() error {
	if err := e.cfg.CheckInstallationFolder(e.cfg.InstallationFolder); err != nil {
		return fmt.Errorf("%w (run: workshopdl config set-folder <dir>)", err)
	}
	return nil
}

func (e *appEnv) provisioner(notify func(string)) *tools.Provisioner {
	releases := make(map[tools.Platform]tools.Release, len(e.cfg.SteamCMD.Sources))
	for name := range e.cfg.SteamCMD.Sources {
		if src, ok := e.cfg.SourceFor(name); ok {
			releases[tools.Platform(name)] = tools.Release{URL: src.URL, Executable: src.Executable}
		}
	}
	return tools.New(tools.Options{
		Dir:      e.paths.ToolsDir,
		Releases: releases,
		Logger:   e.logger,
		Notify:   notify,
	})
}

func (e *appEnv) openHistory(ctx context.Context) (*history.Store, error) {
	return history.Open(ctx, e.paths.HistoryDB)
}

func (e *appEnv) manager(q *queue.Queue, prov pipeline.Ensurer, hist pipeline.Recorder) (*pipeline.Manager, error) {
	var modsDir string
	if e.cfg.InstallationFolder != "" {
		modsDir = install.ModsDir(e.cfg.InstallationFolder)
	}
	return pipeline.New(pipeline.Options{
		Queue:       q,
		Tools:       prov,
		Supervisor:  &steamcmd.Supervisor{LogsDir: e.paths.LogsDir, Logger: e.logger},
		WorkDir:     e.paths.DownloadsDir,
		ModsDir:     modsDir,
		Concurrency: e.cfg.Concurrency,
		History:     hist,
		Logger:      e.logger,
	})
}
