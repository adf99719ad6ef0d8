package merger

import (
	"github.com/antisplit/pkg/model"
	"github.com/antisplit/pkg/utils"
)

// Listener receives the progress of a merge. OnLog is called for every
// human-readable line; exactly one of OnSuccess or OnFailure ends a run.
type Listener interface {
	OnLog(line string)
	OnSuccess(result *model.MergeResult)
	OnFailure(report *model.FailureReport)
}

type nopListener struct{}

func (nopListener) OnLog(string)                   {}
func (nopListener) OnSuccess(*model.MergeResult)   {}
func (nopListener) OnFailure(*model.FailureReport) {}

// LogListener forwards terminal events to a Logger. Progress lines are
// already logged by the merger and are dropped here.
type LogListener struct {
	Logger utils.Logger
}

// OnLog implements Listener.
func (l *LogListener) OnLog(string) {}

// OnSuccess implements Listener.
func (l *LogListener) OnSuccess(result *model.MergeResult) {
	l.Logger.WithFields(map[string]interface{}{
		"tid":     result.TaskUUID,
		"modules": len(result.Modules),
		"signed":  result.Signed,
	}).Info("merged apk written to %s", result.Output)
}

// OnFailure implements Listener.
func (l *LogListener) OnFailure(report *model.FailureReport) {
	l.Logger.WithFields(map[string]interface{}{
		"tid":   report.TaskUUID,
		"phase": report.Phase.String(),
		"code":  report.Code,
	}).Error("merge failed: %s", report.Message)
	if report.Stack != "" {
		l.Logger.Debug("stack:\n%s", report.Stack)
	}
}
