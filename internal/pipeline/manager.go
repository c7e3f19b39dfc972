package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"workshopdl/internal/install"
	"workshopdl/internal/logx"
	"workshopdl/internal/queue"
	"workshopdl/internal/steamcmd"
)

// Notice stages.
const (
	StageProvisioning = "provisioning"
	StageDownload     = "download"
	StageInstallation = "installation"
)

// ReasonCancelled is recorded on requests that never started because the
// manager stopped.
const ReasonCancelled = "cancelled"

// Ensurer yields a runnable SteamCMD path.
type Ensurer interface {
	Ensure(ctx context.Context) (string, error)
}

// ProcessRunner streams one SteamCMD run.
type ProcessRunner interface {
	Run(ctx context.Context, inv steamcmd.Invocation) <-chan steamcmd.Event
}

// Recorder persists settled requests.
type Recorder interface {
	Record(ctx context.Context, r queue.Request) error
}

// InstallFunc merges a staged download into the mods directory.
type InstallFunc func(staged, dest string) (install.Result, error)

// Options wires a Manager.
type Options struct {
	Queue      *queue.Queue
	Tools      Ensurer
	Supervisor ProcessRunner
	// WorkDir holds one SteamCMD install dir per request, named
	// <scope>-<item>; downloads land under its steamapps/workshop/content.
	WorkDir string
	// ModsDir receives installed items. Empty skips installation.
	ModsDir     string
	Concurrency int
	History     Recorder
	Install     InstallFunc
	Logger      *zap.Logger
}

// Manager drives queued requests through provisioning, download and
// installation.
type Manager struct {
	queue       *queue.Queue
	tools       Ensurer
	supervisor  ProcessRunner
	workDir     string
	modsDir     string
	concurrency int
	history     Recorder
	install     InstallFunc
	logger      *zap.Logger
}

// New validates opts and returns a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Queue == nil || opts.Tools == nil || opts.Supervisor == nil {
		return nil, errors.New("pipeline: queue, tools and supervisor are required")
	}
	if opts.WorkDir == "" {
		return nil, errors.New("pipeline: work dir is required")
	}
	workDir, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: resolve work dir: %w", err)
	}

	m := &Manager{
		queue:       opts.Queue,
		tools:       opts.Tools,
		supervisor:  opts.Supervisor,
		workDir:     workDir,
		modsDir:     opts.ModsDir,
		concurrency: opts.Concurrency,
		history:     opts.History,
		install:     opts.Install,
		logger:      logx.OrNop(opts.Logger).Named("pipeline"),
	}
	if m.concurrency < 1 {
		m.concurrency = 1
	}
	if m.install == nil {
		m.install = install.Install
	}
	return m, nil
}

// Queue exposes the underlying queue for observers.
func (m *Manager) Queue() *queue.Queue {
	return m.queue
}

// Submit enqueues an item.
func (m *Manager) Submit(item queue.Item) (string, error) {
	id, err := m.queue.Submit(item)
	if err != nil {
		return "", err
	}
	m.logger.Info("request queued", zap.String("request", id), zap.String("item", item.ItemID))
	return id, nil
}

// Drain waits until every submitted request has settled.
func (m *Manager) Drain(ctx context.Context) error {
	return m.queue.WaitSettled(ctx)
}

// Run processes requests until ctx ends. Requests still queued at that point
// are failed so none is left pending.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.concurrency; i++ {
		g.Go(func() error {
			m.worker(ctx, i)
			return nil
		})
	}
	err := g.Wait()

	if n := m.queue.FailQueued(ReasonCancelled); n > 0 {
		m.logger.Info("failed queued requests on shutdown", zap.Int("count", n))
		for _, r := range m.queue.Snapshot() {
			if r.Status == queue.StatusFailed && r.Reason == ReasonCancelled {
				m.record(context.WithoutCancel(ctx), r.ID)
			}
		}
	}
	return err
}

func (m *Manager) worker(ctx context.Context, n int) {
	logger := m.logger.With(zap.Int("worker", n))
	for {
		req, err := m.queue.Claim(ctx)
		if err != nil {
			logger.Debug("worker stopping", zap.Error(err))
			return
		}
		m.process(ctx, logger.With(zap.String("request", req.ID), zap.String("item", req.ItemID)), req)
	}
}

func (m *Manager) process(ctx context.Context, logger *zap.Logger, req queue.Request) {
	defer m.record(context.WithoutCancel(ctx), req.ID)

	m.notice(logger, req.ID, StageProvisioning, "checking steamcmd")
	tool, err := m.tools.Ensure(ctx)
	if err != nil {
		m.fail(logger, req.ID, StageProvisioning, err)
		return
	}

	m.notice(logger, req.ID, StageDownload, fmt.Sprintf("downloading %s (%s)", req.DisplayName, req.ItemID))
	workDir := m.itemWorkDir(req)
	inv := steamcmd.Invocation{
		ToolPath:       tool,
		ContentScopeID: req.ContentScopeID,
		ItemID:         req.ItemID,
		WorkDir:        workDir,
	}
	var runErr error
	for ev := range m.supervisor.Run(ctx, inv) {
		switch {
		case ev.Err != nil:
			runErr = ev.Err
		case ev.Outcome != nil:
		default:
			_ = m.queue.Log(req.ID, ev.Line)
		}
	}
	if runErr != nil {
		m.fail(logger, req.ID, StageDownload, runErr)
		return
	}

	if err := m.queue.MarkCompleted(req.ID); err != nil {
		logger.Error("mark completed", zap.Error(err))
		return
	}
	m.installRequest(logger, req, workDir)
}

// itemWorkDir is the SteamCMD install dir for one request. Concurrent runs
// each get their own so SteamCMD state files are never shared.
func (m *Manager) itemWorkDir(req queue.Request) string {
	return filepath.Join(m.workDir, req.ContentScopeID+"-"+req.ItemID)
}

func (m *Manager) installRequest(logger *zap.Logger, req queue.Request, workDir string) {
	if m.modsDir == "" {
		_ = m.queue.SetInstall(req.ID, queue.InstallSkipped, "no installation folder configured")
		m.notice(logger, req.ID, StageInstallation, "skipped: no installation folder configured")
		return
	}

	staged := install.StagedDir(workDir, req.ContentScopeID, req.ItemID)
	m.notice(logger, req.ID, StageInstallation, "installing into "+m.modsDir)
	res, err := m.install(staged, m.modsDir)
	if err != nil {
		logger.Error("installation failed", zap.Error(err))
		_ = m.queue.Notice(req.ID, StageInstallation, err.Error())
		_ = m.queue.SetInstall(req.ID, queue.InstallFailed, err.Error())
		return
	}
	detail := fmt.Sprintf("%d files, %d bytes", res.Files, res.Bytes)
	m.notice(logger, req.ID, StageInstallation, "installed "+detail)
	_ = m.queue.SetInstall(req.ID, queue.Installed, detail)
}

func (m *Manager) fail(logger *zap.Logger, id, stage string, err error) {
	logger.Error("request failed", zap.String("stage", stage), zap.Error(err))
	_ = m.queue.Notice(id, stage, err.Error())
	_ = m.queue.MarkFailed(id, err.Error())
}

func (m *Manager) notice(logger *zap.Logger, id, stage, msg string) {
	logger.Info(msg, zap.String("stage", stage))
	_ = m.queue.Notice(id, stage, msg)
}

func (m *Manager) record(ctx context.Context, id string) {
	if m.history == nil {
		return
	}
	r, err := m.queue.Get(id)
	if err != nil || !r.Settled() {
		return
	}
	if err := m.history.Record(ctx, r); err != nil {
		m.logger.Warn("record history", zap.String("request", id), zap.Error(err))
	}
}
