package types

import (
	"encoding/json"
	"fmt"
)

// TaskStatus is the state of a task on the cloud side. The zero value is not a
// valid status; values only enter the system through ParseTaskStatus.
type TaskStatus int

const (
	TaskPending TaskStatus = iota + 1
	TaskRunning
	TaskCompleted
	TaskSomeFailed
	TaskAllFailed
	TaskCancelled
	TaskTimeout
)

// wire codes used by the cloud API
var taskStatusCodes = map[int]TaskStatus{
	1:  TaskPending,
	2:  TaskRunning,
	3:  TaskCompleted,
	-2: TaskSomeFailed,
	-1: TaskAllFailed,
	-3: TaskCancelled,
	-4: TaskTimeout,
}

// ParseTaskStatus maps the integer taskStatus of a callback or task detail.
func ParseTaskStatus(code int) (TaskStatus, error) {
	s, ok := taskStatusCodes[code]
	if !ok {
		return 0, fmt.Errorf("unknown task status code %d", code)
	}
	return s, nil
}

// Code returns the wire encoding.
func (s TaskStatus) Code() int {
	for code, status := range taskStatusCodes {
		if status == s {
			return code
		}
	}
	return 0
}

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "PENDING"
	case TaskRunning:
		return "RUNNING"
	case TaskCompleted:
		return "COMPLETED"
	case TaskSomeFailed:
		return "SOME_FAILED"
	case TaskAllFailed:
		return "ALL_FAILED"
	case TaskCancelled:
		return "CANCELLED"
	case TaskTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
}

// InFlight reports whether the task has not produced an outcome yet.
func (s TaskStatus) InFlight() bool {
	return s == TaskPending || s == TaskRunning
}

// IsTerminal reports whether the cloud will not change the status anymore.
// SOME_FAILED is terminal on the cloud side but retryable for us.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskSomeFailed, TaskAllFailed, TaskCancelled, TaskTimeout:
		return true
	}
	return false
}

func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// BusinessType is the taskBusinessType tag of a callback.
type BusinessType int

const (
	BusinessReboot       BusinessType = 1000
	BusinessRestartList  BusinessType = 1001
	BusinessADBCall      BusinessType = 1002
	BusinessInstallApp   BusinessType = 1003
	BusinessUninstallApp BusinessType = 1004
	BusinessAppReboot    BusinessType = 1006
	BusinessAppStart     BusinessType = 1007
	BusinessFileUpload   BusinessType = 1009
	BusinessReplacePad   BusinessType = 1124
)

// TaskKind is the pipeline stage a task belongs to.
type TaskKind string

const (
	KindReset        TaskKind = "reset"
	KindInstallApp   TaskKind = "install-app"
	KindReboot       TaskKind = "reboot"
	KindStartApp     TaskKind = "start-app"
	KindADBCall      TaskKind = "adb-call"
	KindUninstallApp TaskKind = "uninstall-app"
	KindUnknown      TaskKind = "unknown"
)

// Kind maps a business type to its pipeline stage.
func (b BusinessType) Kind() TaskKind {
	switch b {
	case BusinessReplacePad:
		return KindReset
	case BusinessReboot:
		return KindReboot
	case BusinessInstallApp, BusinessFileUpload:
		return KindInstallApp
	case BusinessUninstallApp:
		return KindUninstallApp
	case BusinessAppReboot, BusinessAppStart, BusinessRestartList:
		return KindStartApp
	case BusinessADBCall:
		return KindADBCall
	default:
		return KindUnknown
	}
}

// TaskRef identifies a long-running cloud task. It is never persisted.
type TaskRef struct {
	TaskID  int64    `json:"task_id"`
	PadCode string   `json:"pad_code"`
	Kind    TaskKind `json:"kind"`
}
