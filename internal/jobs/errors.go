package jobs

import (
	"errors"
	"fmt"
)

// ErrorKind は失敗の種別です。呼び出し側はメッセージではなく種別で分岐します。
type ErrorKind string

const (
	KindToolUnavailable ErrorKind = "tool_unavailable"
	KindTimeout         ErrorKind = "timeout"
	KindExecution       ErrorKind = "execution_error"
	KindInvalidProfile  ErrorKind = "invalid_profile"
	KindNotFound        ErrorKind = "not_found"
	KindDuplicateID     ErrorKind = "duplicate_id"
	KindInternal        ErrorKind = "internal_error"
	KindCanceled        ErrorKind = "canceled"
)

var (
	// ErrNotFound はジョブが存在しない場合に返します。
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateID は同じIDのジョブが既に存在する場合に返します。
	ErrDuplicateID = errors.New("duplicate job id")
	// ErrInvalidProfile は未知の圧縮プロファイルが指定された場合に返します。
	ErrInvalidProfile = errors.New("invalid compression profile")
	// ErrNotReady はジョブがまだ終端状態に達していない場合に返します。
	ErrNotReady = errors.New("job is not finished yet")
	// ErrQueueFull はワーカーキューが満杯の場合に返します。
	ErrQueueFull = errors.New("job queue is full")
	// ErrDispatcherClosed は停止済みのディスパッチャに投入した場合に返します。
	ErrDispatcherClosed = errors.New("job dispatcher is closed")
	// ErrInvalidTransition は段階遷移の規則に反した更新を表します。
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// JobError は失敗したジョブのエラーです。
type JobError struct {
	JobID       string
	Kind        ErrorKind
	Message     string
	Diagnostics string
}

func (e *JobError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("job %s failed (%s): %s", e.JobID, e.Kind, e.Message)
}

// Is は同じ種別の JobError と一致します。
func (e *JobError) Is(target error) bool {
	other, ok := target.(*JobError)
	if !ok || other == nil {
		return false
	}
	return other.Kind == e.Kind && (other.JobID == "" || other.JobID == e.JobID)
}

// KindOf はエラーから種別を取り出します。判別できない場合は internal_error です。
func KindOf(err error) ErrorKind {
	var jobErr *JobError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &jobErr):
		return jobErr.Kind
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateID):
		return KindDuplicateID
	case errors.Is(err, ErrInvalidProfile):
		return KindInvalidProfile
	default:
		return KindInternal
	}
}
