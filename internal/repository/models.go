package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/antisplit/pkg/model"
)

// MergeTaskRecord represents the merge_task table.
type MergeTaskRecord struct {
	ID           int64             `gorm:"column:id;primaryKey;autoIncrement"`
	TID          string            `gorm:"column:tid;type:varchar(64);uniqueIndex"`
	Inputs       JSONField         `gorm:"column:inputs;type:json"`
	Output       string            `gorm:"column:output;type:varchar(1024)"`
	Status       model.MergeStatus `gorm:"column:status;index"`
	Phase        model.Phase       `gorm:"column:phase"`
	Modules      JSONField         `gorm:"column:modules;type:json"`
	Signed       bool              `gorm:"column:signed"`
	DexStrategy  string            `gorm:"column:dex_strategy;type:varchar(32)"`
	ErrorCode    string            `gorm:"column:error_code;type:varchar(64)"`
	ErrorMessage string            `gorm:"column:error_message;type:text"`
	DurationMS   int64             `gorm:"column:duration_ms"`
	CreateTime   time.Time         `gorm:"column:create_time;autoCreateTime"`
	EndTime      *time.Time        `gorm:"column:end_time"`
}

// TableName returns the table name for MergeTaskRecord.
func (MergeTaskRecord) TableName() string {
	return "merge_task"
}

func newRecord(t *model.MergeTask) *MergeTaskRecord {
	return &MergeTaskRecord{
		TID:          t.TaskUUID,
		Inputs:       marshalList(t.Inputs),
		Output:       t.Output,
		Status:       t.Status,
		Phase:        t.Phase,
		Modules:      marshalList(t.Modules),
		Signed:       t.Signed,
		DexStrategy:  t.DexStrategy,
		ErrorCode:    t.ErrorCode,
		ErrorMessage: t.ErrorMessage,
		DurationMS:   t.Duration.Milliseconds(),
		CreateTime:   t.CreateTime,
		EndTime:      t.EndTime,
	}
}

// ToModel converts MergeTaskRecord to model.MergeTask.
func (r *MergeTaskRecord) ToModel() *model.MergeTask {
	task := &model.MergeTask{
		ID:           r.ID,
		TaskUUID:     r.TID,
		Output:       r.Output,
		Status:       r.Status,
		Phase:        r.Phase,
		Signed:       r.Signed,
		DexStrategy:  r.DexStrategy,
		ErrorCode:    r.ErrorCode,
		ErrorMessage: r.ErrorMessage,
		Duration:     time.Duration(r.DurationMS) * time.Millisecond,
		CreateTime:   r.CreateTime,
		EndTime:      r.EndTime,
	}
	if r.Inputs != nil {
		_ = json.Unmarshal(r.Inputs, &task.Inputs)
	}
	if r.Modules != nil {
		_ = json.Unmarshal(r.Modules, &task.Modules)
	}
	return task
}

func marshalList(items []string) JSONField {
	if items == nil {
		return nil
	}
	b, _ := json.Marshal(items)
	return b
}

// JSONField is a custom type for handling JSON fields in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}
