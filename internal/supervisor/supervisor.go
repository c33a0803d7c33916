package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/taskrunner/runner/internal/logging"
)

// State is the executor's lifecycle state (spec §4.3 "status").
type State string

const (
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateBuilding State = "building"
	StateStarting State = "starting"
	StateStopping State = "stopping"
)

// BuildMeta is the fingerprint of the last successfully built executor
// binary (spec §3 "BuildMeta"). Updated atomically, together, on every
// successful build; untouched on failure.
type BuildMeta struct {
	BuildSHA       string    `json:"build_sha"`
	BuildTimestamp time.Time `json:"build_timestamp"`
}

// Config configures one namespace's Supervisor.
type Config struct {
	Namespace      string
	BuildCommand   []string // argv; run with cwd=WorkDir
	StartCommand   []string // argv for the executor itself
	WorkDir        string
	PIDFile        string
	LogFile        string
	BuildMetaFile  string
	BuildTimeout   time.Duration // default 300s
	StopTimeout    time.Duration // default 30s
	RestartMax     int           // default 3
	RestartWindow  time.Duration // default 60s
	CooldownPeriod time.Duration // default 120s
}

func (c *Config) applyDefaults() {
	if c.BuildTimeout == 0 {
		c.BuildTimeout = 300 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.RestartMax == 0 {
		c.RestartMax = 3
	}
	if c.RestartWindow == 0 {
		c.RestartWindow = 60 * time.Second
	}
	if c.CooldownPeriod == 0 {
		c.CooldownPeriod = 120 * time.Second
	}
}

// RestartResult is restart()'s return value (spec §4.3).
type RestartResult struct {
	Success   bool
	OldPID    int
	NewPID    int
	BuildMeta *BuildMeta
	Error     string
}

// Supervisor owns exactly one executor child process for one namespace
// (spec §4.3 "Contract"). Grounded on the teacher's
// internal/devops/supervisor.Supervisor tick/restart-policy shape, narrowed
// from "N heterogeneous components on a shared ticker" to "one executor,
// driven by explicit calls from the dispatcher" since this supervisor has
// no independent health-poll loop of its own — the dispatcher decides when
// a restart is warranted.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
	policy *restartPolicy

	mu        sync.Mutex
	state     State
	handle    *processHandle
	buildMeta BuildMeta
}

// New constructs a Supervisor. If cfg.BuildMetaFile already contains a
// persisted BuildMeta, it is loaded so status() survives process restarts.
func New(cfg Config, logger *slog.Logger) *Supervisor {
	cfg.applyDefaults()
	s := &Supervisor{
		cfg:    cfg,
		logger: logging.Component(logger, "supervisor."+cfg.Namespace),
		policy: newRestartPolicy(cfg.RestartMax, cfg.RestartWindow, cfg.CooldownPeriod),
		state:  StateStopped,
	}
	if meta, err := loadBuildMeta(cfg.BuildMetaFile); err == nil {
		s.buildMeta = meta
	}
	return s
}

// StatusReport is status()'s return value.
type StatusReport struct {
	State          State
	PID            int
	UptimeMS       int64
	BuildSHA       string
	BuildTimestamp time.Time
	InCooldown     bool
	RestartCount   int
}

// statusLockTimeout bounds how long Status() will spin trying to acquire
// the supervisor's mutex before giving up and reporting "building" instead
// (spec §5 "status must remain lock-free enough that a deadlocked build
// never blocks a status query indefinitely").
const statusLockTimeout = 50 * time.Millisecond

func (s *Supervisor) Status() StatusReport {
	deadline := time.Now().Add(statusLockTimeout)
	for !s.mu.TryLock() {
		if time.Now().After(deadline) {
			return StatusReport{State: StateBuilding}
		}
		time.Sleep(time.Millisecond)
	}
	defer s.mu.Unlock()
	report := StatusReport{
		State:          s.state,
		BuildSHA:       s.buildMeta.BuildSHA,
		BuildTimestamp: s.buildMeta.BuildTimestamp,
		InCooldown:     s.policy.inCooldown(time.Now()),
		RestartCount:   s.policy.restartCount(time.Now()),
	}
	if s.handle != nil && isProcessAlive(s.handle.PID) {
		report.PID = s.handle.PID
		report.UptimeMS = time.Since(s.handle.StartedAt).Milliseconds()
	}
	return report
}

// Build runs the configured build command with a hard timeout. On success
// it atomically writes a new BuildMeta; on failure BuildMeta is untouched
// (spec §4.3 "build failure preserves old binary").
func (s *Supervisor) Build(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateBuilding
	s.mu.Unlock()

	buildCtx, cancel := context.WithTimeout(ctx, s.cfg.BuildTimeout)
	defer cancel()

	err := s.runBuild(buildCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Error("build failed", "error", err)
		s.state = s.runtimeStateLocked()
		return err
	}
	meta := BuildMeta{BuildSHA: s.computeBuildSHA(), BuildTimestamp: time.Now().UTC()}
	if err := saveBuildMeta(s.cfg.BuildMetaFile, meta); err != nil {
		s.logger.Error("failed to persist build meta", "error", err)
		s.state = s.runtimeStateLocked()
		return err
	}
	s.buildMeta = meta
	s.state = s.runtimeStateLocked()
	s.logger.Info("build succeeded", "build_sha", meta.BuildSHA)
	return nil
}

func (s *Supervisor) runBuild(ctx context.Context) error {
	if len(s.cfg.BuildCommand) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, s.cfg.BuildCommand[0], s.cfg.BuildCommand[1:]...)
	cmd.Dir = s.cfg.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("build command failed: %w: %s", err, string(out))
	}
	return nil
}

// computeBuildSHA returns the 12-hex fingerprint for the just-built binary.
// Prefers the current commit (git rev-parse HEAD); when no git repo is
// present, falls back to a hash of the build argv, work dir and the current
// time, so each fallback build gets a different fingerprint.
func (s *Supervisor) computeBuildSHA() string {
	cmd := exec.Command("git", "-C", s.cfg.WorkDir, "rev-parse", "HEAD")
	if out, err := cmd.Output(); err == nil {
		sha := string(out)
		if len(sha) >= 12 {
			return sha[:12]
		}
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%v:%s:%d", s.cfg.BuildCommand, s.cfg.WorkDir, time.Now().UnixNano())))
	return hex.EncodeToString(h[:])[:12]
}

// Start launches the executor process if it isn't already running.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) (int, error) {
	if s.handle != nil && isProcessAlive(s.handle.PID) {
		return s.handle.PID, nil
	}
	if len(s.cfg.StartCommand) == 0 {
		return 0, fmt.Errorf("supervisor %s: no start command configured", s.cfg.Namespace)
	}
	s.state = StateStarting
	if err := ensureDir(s.cfg.PIDFile); err != nil {
		return 0, err
	}
	if err := ensureDir(s.cfg.LogFile); err != nil {
		return 0, err
	}

	cmd := exec.Command(s.cfg.StartCommand[0], s.cfg.StartCommand[1:]...)
	cmd.Dir = s.cfg.WorkDir
	cmd.SysProcAttr = setpgidAttr()

	logFile, err := os.OpenFile(s.cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		s.state = StateStopped
		return 0, fmt.Errorf("start executor: %w", err)
	}

	pid := cmd.Process.Pid
	pgid, _ := processGroupID(pid)
	identity, err := processCommandLine(pid)
	if err != nil || identity == "" {
		identity = commandIdentityFromCmd(cmd)
	}
	if err := writePIDState(s.cfg.PIDFile, pidMetaFile(s.cfg.PIDFile), pid, identity); err != nil {
		_ = cmd.Process.Kill()
		_ = logFile.Close()
		return 0, fmt.Errorf("write pid state: %w", err)
	}

	handle := &processHandle{PID: pid, PGID: pgid, StartedAt: time.Now(), Cmd: cmd, logHandle: logFile}
	s.handle = handle
	s.state = StateRunning

	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
		s.mu.Lock()
		if s.handle == handle {
			s.handle = nil
			s.state = StateStopped
			cleanupPIDState(s.cfg.PIDFile, pidMetaFile(s.cfg.PIDFile))
		}
		s.mu.Unlock()
	}()

	return pid, nil
}

// Stop sends SIGTERM, waits up to StopTimeout, then SIGKILLs. Always
// leaves state=stopped with no tracked PID (spec §4.3 "stop").
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateStopping
	handle := s.handle
	s.mu.Unlock()

	if handle == nil || !isProcessAlive(handle.PID) {
		s.mu.Lock()
		s.handle = nil
		s.state = StateStopped
		s.mu.Unlock()
		cleanupPIDState(s.cfg.PIDFile, pidMetaFile(s.cfg.PIDFile))
		return nil
	}

	target := -handle.PGID
	if handle.PGID == 0 {
		target = handle.PID
	}
	_ = killSignal(target, sigterm)

	deadline := time.Now().Add(s.cfg.StopTimeout)
	for time.Now().Before(deadline) {
		if !isProcessAlive(handle.PID) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if isProcessAlive(handle.PID) {
		_ = killSignal(target, sigkill)
	}

	s.mu.Lock()
	s.handle = nil
	s.state = StateStopped
	s.mu.Unlock()
	cleanupPIDState(s.cfg.PIDFile, pidMetaFile(s.cfg.PIDFile))
	return nil
}

// Restart sequences stop -> (optional build) -> start. If build fails, the
// old process is NOT restarted — the failure is reported with the stale
// oldPid and the last known good BuildMeta is preserved (spec §4.3
// "restart"). On success the new PID is guaranteed to differ from the old
// one, since Start always forks a fresh process.
func (s *Supervisor) Restart(ctx context.Context, build bool) RestartResult {
	oldPID := s.Status().PID

	if !s.policy.shouldRestart(time.Now()) {
		s.policy.enterCooldown()
		s.logger.Warn("restart storm detected, entering cooldown", "namespace", s.cfg.Namespace)
		return RestartResult{Success: false, OldPID: oldPID, Error: "restart storm: cooldown active"}
	}
	s.policy.recordRestart()

	if err := s.Stop(ctx); err != nil {
		return RestartResult{Success: false, OldPID: oldPID, Error: err.Error()}
	}

	if build {
		if err := s.Build(ctx); err != nil {
			return RestartResult{Success: false, OldPID: oldPID, Error: err.Error()}
		}
	}

	newPID, err := s.Start(ctx)
	if err != nil {
		return RestartResult{Success: false, OldPID: oldPID, Error: err.Error()}
	}
	if newPID == oldPID {
		return RestartResult{Success: false, OldPID: oldPID, NewPID: newPID, Error: "pid unchanged after restart"}
	}

	meta := s.buildMetaCopy()
	return RestartResult{Success: true, OldPID: oldPID, NewPID: newPID, BuildMeta: &meta}
}

func (s *Supervisor) buildMetaCopy() BuildMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildMeta
}

func (s *Supervisor) runtimeStateLocked() State {
	if s.handle != nil && isProcessAlive(s.handle.PID) {
		return StateRunning
	}
	return StateStopped
}

func loadBuildMeta(path string) (BuildMeta, error) {
	var meta BuildMeta
	if path == "" {
		return meta, fmt.Errorf("no build meta file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, err
	}
	return meta, nil
}

func saveBuildMeta(path string, meta BuildMeta) error {
	if path == "" {
		return nil
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return atomicWriteFile(path, data)
}
