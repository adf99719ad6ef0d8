// Package merger drives a split APK merge through its phases: opening the
// modules, merging resources, merging dex, writing and signing.
package merger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/antisplit/internal/apk"
	"github.com/antisplit/internal/arsc"
	"github.com/antisplit/internal/dex"
	"github.com/antisplit/internal/repository"
	"github.com/antisplit/internal/signer"
	"github.com/antisplit/internal/storage"
	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
	"github.com/antisplit/pkg/telemetry"
	"github.com/antisplit/pkg/utils"
)

// stackFrames bounds the stack attached to failure reports.
const stackFrames = 12

// Config holds the collaborators shared by every run.
type Config struct {
	// WorkDir holds one scratch directory per run.
	WorkDir string
	// Workers bounds dex decoding and interning; 0 means NumCPU.
	Workers int
	// Repository, when set, records every run.
	Repository repository.TaskRepository
	// Storage, when set, receives outputs of runs with an UploadKey.
	Storage storage.Storage
	Logger  utils.Logger
	Clock   utils.Clock
}

// Options describes one merge.
type Options struct {
	// Inputs are APK files, directories of APKs or bundle archives.
	Inputs []string
	// Output defaults to apk.OutputPath of the first input.
	Output    string
	Device    model.DeviceSpec
	Selection apk.SelectOptions
	Sign      bool
	// Key signs the output; an ephemeral key is generated when nil.
	Key *signer.Key
	// Upload sends the output to the configured storage under UploadKey,
	// or under storage.ObjectKey of the task when UploadKey is empty.
	Upload    bool
	UploadKey string
	Listener  Listener
}

// Merger runs merges.
type Merger struct {
	workDir string
	workers int
	repo    repository.TaskRepository
	storage storage.Storage
	logger  utils.Logger
	clock   utils.Clock
}

// New creates a Merger.
func New(cfg *Config) *Merger {
	m := &Merger{
		workDir: cfg.WorkDir,
		workers: cfg.Workers,
		repo:    cfg.Repository,
		storage: cfg.Storage,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
	}
	if m.workDir == "" {
		m.workDir = filepath.Join(os.TempDir(), "antisplit")
	}
	if m.workers <= 0 {
		m.workers = runtime.NumCPU()
	}
	if m.logger == nil {
		m.logger = &utils.NullLogger{}
	}
	if m.clock == nil {
		m.clock = utils.RealClock{}
	}
	return m
}

// Run merges opts.Inputs into one APK. On failure or cancellation no file
// is left at the output path and the listener receives a failure report.
func (m *Merger) Run(ctx context.Context, opts Options) (*model.MergeResult, error) {
	tid := uuid.New().String()
	output := opts.Output
	if output == "" && len(opts.Inputs) > 0 {
		output = apk.OutputPath(opts.Inputs[0])
	}
	listener := opts.Listener
	if listener == nil {
		listener = nopListener{}
	}

	r := &run{
		m:        m,
		opts:     opts,
		task:     model.NewMergeTask(tid, opts.Inputs, output),
		listener: listener,
		logger:   m.logger.WithField("tid", tid),
		timer:    utils.NewTimer(m.clock),
		dir:      filepath.Join(m.workDir, tid),
		output:   output,
	}
	return r.execute(ctx)
}

type run struct {
	m        *Merger
	opts     Options
	task     *model.MergeTask
	listener Listener
	logger   utils.Logger
	timer    *utils.Timer
	phase    model.Phase
	dir      string
	output   string
	tmp      string

	bundle    *apk.Bundle
	selection apk.Selection
	table     *arsc.Table
	dex       *dex.MergeResult
	result    *model.MergeResult
}

func (r *run) log(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	r.logger.Info("%s", line)
	r.listener.OnLog(line)
}

func (r *run) execute(ctx context.Context) (*model.MergeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "merge", attribute.String("task.uuid", r.task.TaskUUID))
	r.record(ctx)

	err := r.steps(ctx)
	r.cleanup()
	if err != nil {
		err = r.fail(ctx, err)
		telemetry.EndSpan(span, err)
		return nil, err
	}
	r.succeed(ctx)
	telemetry.EndSpan(span, nil)
	return r.result, nil
}

func (r *run) steps(ctx context.Context) error {
	if len(r.opts.Inputs) == 0 {
		return apperrors.Newf(apperrors.CodeInvalidInput, "no input given")
	}
	steps := []struct {
		phase model.Phase
		fn    func(context.Context) error
	}{
		{model.PhaseOpening, r.open},
		{model.PhaseResourceMerge, r.mergeResources},
		{model.PhaseDexMerge, r.mergeDex},
		{model.PhaseWriting, r.write},
		{model.PhaseSigning, r.sign},
	}
	for _, s := range steps {
		if err := r.enter(ctx, s.phase); err != nil {
			return err
		}
		sctx, span := telemetry.StartSpan(ctx, s.phase.String())
		err := s.fn(sctx)
		telemetry.EndSpan(span, err)
		if err != nil {
			return err
		}
	}
	r.timer.Stop()
	return r.publish(ctx)
}

func (r *run) enter(ctx context.Context, phase model.Phase) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrapf(apperrors.CodeCanceled, err, "canceled before %s", phase)
	}
	r.phase = phase
	r.timer.Start(phase.String())
	r.logger.Debug("entering %s", phase)
	if r.m.repo != nil {
		if err := r.m.repo.UpdatePhase(ctx, r.task.TaskUUID, phase); err != nil {
			r.logger.Warn("failed to record phase %s: %v", phase, err)
		}
	}
	return nil
}

// publish moves the finished file into place and uploads it.
func (r *run) publish(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrapf(apperrors.CodeCanceled, err, "canceled before publishing")
	}
	if err := os.Rename(r.tmp, r.output); err != nil {
		return apperrors.IO(err, "move output to %s", r.output)
	}
	r.tmp = ""
	r.phase = model.PhaseDone

	if r.opts.Upload && r.m.storage != nil {
		key := r.opts.UploadKey
		if key == "" {
			key = storage.ObjectKey(r.task.TaskUUID, r.output)
		}
		if err := r.m.storage.UploadFile(ctx, key, r.output); err != nil {
			r.logger.Warn("upload of %s failed: %v", r.output, err)
			r.log("upload failed: %s", apperrors.GetErrorMessage(err))
		} else {
			r.result.UploadURL = r.m.storage.GetURL(key)
			r.log("uploaded to %s", r.result.UploadURL)
		}
	}
	return nil
}

func (r *run) cleanup() {
	if r.bundle != nil {
		if err := r.bundle.Close(); err != nil {
			r.logger.Warn("failed to close modules: %v", err)
		}
	}
	if r.tmp != "" {
		if err := os.Remove(r.tmp); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove %s: %v", r.tmp, err)
		}
	}
	if err := os.RemoveAll(r.dir); err != nil {
		r.logger.Warn("failed to clean up work directory %s: %v", r.dir, err)
	}
}

func (r *run) record(ctx context.Context) {
	if r.m.repo == nil {
		return
	}
	if err := r.m.repo.Create(ctx, r.task); err != nil {
		r.logger.Warn("failed to record task: %v", err)
	}
}

func (r *run) finish(ctx context.Context) {
	if r.m.repo == nil {
		return
	}
	r.task.Duration = r.timer.Total()
	if err := r.m.repo.Finish(context.WithoutCancel(ctx), r.task); err != nil {
		r.logger.Warn("failed to record task result: %v", err)
	}
}

func (r *run) succeed(ctx context.Context) {
	res := r.result
	res.Duration = r.timer.Total()
	res.Phases = make(map[string]string)
	for _, p := range r.timer.Phases() {
		res.Phases[p.Name] = p.Duration.String()
	}

	r.task.Status = model.MergeStatusSucceeded
	r.task.Phase = model.PhaseDone
	r.task.Modules = res.Modules
	r.task.Signed = res.Signed
	r.task.DexStrategy = res.DexStrategy
	r.finish(ctx)

	r.log("done in %s: %s", res.Duration.Round(time.Millisecond), r.output)
	r.logger.Debug("timings: %s", r.timer.Summary())
	r.listener.OnSuccess(res)
}

func isCanceled(ctx context.Context, err error) bool {
	return apperrors.IsCanceled(err) || errors.Is(err, context.Canceled) || ctx.Err() != nil
}

func (r *run) fail(ctx context.Context, err error) error {
	r.timer.Stop()
	failedIn := r.phase
	report := &model.FailureReport{
		TaskUUID: r.task.TaskUUID,
		Phase:    failedIn,
		Code:     apperrors.GetErrorCode(err),
		Message:  err.Error(),
		Stack:    apperrors.StackTrace(err, stackFrames),
	}

	if isCanceled(ctx, err) {
		if !apperrors.IsCanceled(err) {
			err = apperrors.Wrapf(apperrors.CodeCanceled, err, "merge canceled")
		}
		report.Code = apperrors.CodeCanceled
		r.phase = model.PhaseCanceled
		r.task.Status = model.MergeStatusCanceled
		r.log("merge canceled during %s", failedIn)
	} else {
		r.phase = model.PhaseFailed
		r.task.Status = model.MergeStatusFailed
		r.logger.Error("merge failed during %s: %v", failedIn, err)
		r.listener.OnLog(fmt.Sprintf("merge failed during %s: %s", failedIn, err))
	}

	r.task.Phase = r.phase
	r.task.ErrorCode = report.Code
	r.task.ErrorMessage = report.Message
	r.finish(ctx)

	r.listener.OnFailure(report)
	return err
}

func moduleNames(mods []*apk.Module) string {
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name
	}
	return strings.Join(names, ", ")
}
