package model

import "time"

// DexStrategy names how dex files were produced for the merged APK.
const (
	DexStrategyMerged      = "merged"
	DexStrategyPassthrough = "passthrough"
	DexStrategyNone        = "none"
)

// MergeResult is reported on a successful merge.
type MergeResult struct {
	TaskUUID    string            `json:"tid" yaml:"tid"`
	Output      string            `json:"output" yaml:"output"`
	Modules     []string          `json:"modules" yaml:"modules"`
	Skipped     []string          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	DexFiles    int               `json:"dex_files" yaml:"dex_files"`
	DexStrategy string            `json:"dex_strategy" yaml:"dex_strategy"`
	Signed      bool              `json:"signed" yaml:"signed"`
	SignError   string            `json:"sign_error,omitempty" yaml:"sign_error,omitempty"`
	UploadURL   string            `json:"upload_url,omitempty" yaml:"upload_url,omitempty"`
	Phases      map[string]string `json:"phases,omitempty" yaml:"phases,omitempty"`
	Duration    time.Duration     `json:"duration" yaml:"duration"`
}

// FailureReport is reported when a merge aborts.
type FailureReport struct {
	TaskUUID string `json:"tid"`
	Phase    Phase  `json:"phase"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Stack    string `json:"stack,omitempty"`
}
