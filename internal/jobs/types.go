package jobs

import (
	"time"

	"github.com/yourusername/pdf-squeeze/internal/converter"
)

// Stage はジョブの進行段階を表します。
type Stage string

const (
	StageQueued     Stage = "queued"
	StagePreparing  Stage = "preparing"
	StageProcessing Stage = "processing"
	StageFinalizing Stage = "finalizing"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"

	// StageUnknown は存在しないジョブIDへの応答にのみ使います。
	StageUnknown Stage = "unknown"
)

// 各段階に入った時点の進捗率（固定値）
const (
	PercentQueued     = 0
	PercentPreparing  = 10
	PercentProcessing = 30
	PercentFinalizing = 80
	PercentComplete   = 100
)

// stageOrder は非終端段階の順序です。complete はその次、failed はどこからでも遷移できます。
var stageOrder = map[Stage]int{
	StageQueued:     0,
	StagePreparing:  1,
	StageProcessing: 2,
	StageFinalizing: 3,
	StageComplete:   4,
}

// Terminal は段階が終端かどうかを返します。
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Diagnostics string    `json:"diagnostics,omitempty"`
}

// Result は圧縮完了時の成果を表します。
type Result struct {
	OriginalSize   int64             `json:"originalSize"`
	CompressedSize int64             `json:"compressedSize"`
	Reduction      float64           `json:"reduction"` // 削減率（%）。出力が大きくなった場合は負になる
	Pages          int               `json:"pages,omitempty"`
	Profile        converter.Profile `json:"profile"`
	InputPath      string            `json:"inputPath"`
	OutputPath     string            `json:"outputPath"`
	InputName      string            `json:"inputName"`
	OutputName     string            `json:"outputName"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	ID         string            `json:"id"`
	Stage      Stage             `json:"stage"`
	Percent    int               `json:"percent"`
	Message    string            `json:"message"`
	Profile    converter.Profile `json:"profile"`
	InputPath  string            `json:"inputPath"`
	OutputPath string            `json:"outputPath"`
	InputName  string            `json:"inputName"`
	OutputName string            `json:"outputName"`
	Error      *ErrorInfo        `json:"error,omitempty"`
	Result     *Result           `json:"result,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Clone はポインタフィールドを含めた複製を返します。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Error != nil {
		errInfo := *r.Error
		out.Error = &errInfo
	}
	if r.Result != nil {
		result := *r.Result
		out.Result = &result
	}
	return &out
}

// Terminal はジョブが終端状態かどうかを返します。
func (r *Record) Terminal() bool {
	return r.Stage.Terminal()
}

// Progress はポーリング応答の形です。
type Progress struct {
	Stage      Stage          `json:"stage"`
	Percentage int            `json:"percentage"`
	Message    string         `json:"message"`
	Complete   bool           `json:"complete"`
	Error      *string        `json:"error"`
	ErrorKind  ErrorKind      `json:"errorKind,omitempty"`
	Result     *ResultSummary `json:"result"`
}

// ResultSummary はポーリング応答に含める成果の要約です。
type ResultSummary struct {
	OriginalSize   int64   `json:"originalSize"`
	CompressedSize int64   `json:"compressedSize"`
	Reduction      float64 `json:"reduction"`
	OutputFileName string  `json:"outputFileName"`
}

const unknownSessionMessage = "invalid session id"

// UnknownProgress は存在しない（または削除済みの）ジョブに対する応答です。
func UnknownProgress() Progress {
	msg := unknownSessionMessage
	return Progress{
		Stage:      StageUnknown,
		Percentage: 0,
		Message:    unknownSessionMessage,
		Complete:   true,
		Error:      &msg,
	}
}

// ProgressOf はレコードからポーリング応答を組み立てます。
func ProgressOf(r *Record) Progress {
	if r == nil {
		return UnknownProgress()
	}
	p := Progress{
		Stage:      r.Stage,
		Percentage: r.Percent,
		Message:    r.Message,
		Complete:   r.Terminal(),
	}
	if r.Error != nil {
		msg := r.Error.Message
		p.Error = &msg
		p.ErrorKind = r.Error.Kind
	}
	if r.Result != nil {
		p.Result = &ResultSummary{
			OriginalSize:   r.Result.OriginalSize,
			CompressedSize: r.Result.CompressedSize,
			Reduction:      r.Result.Reduction,
			OutputFileName: r.Result.OutputName,
		}
	}
	return p
}

// Reduction は削減率（%）を計算します。元サイズが0の場合は0を返します。
func Reduction(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(originalSize-compressedSize) / float64(originalSize) * 100
}
