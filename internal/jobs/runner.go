package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/pdf-squeeze/internal/converter"
	"github.com/yourusername/pdf-squeeze/internal/metrics"
)

// Converter は PDF 圧縮を実行する外部ツールのアダプタです。
type Converter interface {
	Available(ctx context.Context) error
	Convert(ctx context.Context, inputPath, outputPath string, profile converter.Profile) error
}

// FileStore はジョブが扱うファイル領域です。
type FileStore interface {
	OutputPath(jobID, inputName string) (path string, displayName string)
	Size(path string) (int64, error)
	Remove(path string) error
	Purge() error
}

// Inspector は出力 PDF のページ数を調べます（任意）。
type Inspector interface {
	PageCount(path string) (int, error)
}

// Task はディスパッチャ経由で Runner に渡す実行単位です。
type Task struct {
	JobID string `json:"jobId"`
}

const (
	msgQueued     = "ワーカーの空きを待っています"
	msgPreparing  = "Ghostscript を確認しています"
	msgProcessing = "PDFを圧縮しています"
	msgFinalizing = "結果を集計しています"
	msgComplete   = "圧縮が完了しました"
)

// Runner は1件のジョブを preparing → processing → finalizing → complete の順に実行します。
// どの経路でも、ジョブが存在する限り終端状態で終了します。
type Runner struct {
	store     Store
	converter Converter
	files     FileStore
	inspector Inspector
	logger    zerolog.Logger
	now       func() time.Time
}

// RunnerOption は Runner の任意設定です。
type RunnerOption func(*Runner)

// WithInspector はページ数の取得に使う Inspector を設定します。
func WithInspector(inspector Inspector) RunnerOption {
	return func(r *Runner) { r.inspector = inspector }
}

// WithRunnerLogger はロガーを設定します。
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner は Runner を作成します。
func NewRunner(store Store, conv Converter, files FileStore, opts ...RunnerOption) (*Runner, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if conv == nil {
		return nil, errors.New("converter is nil")
	}
	if files == nil {
		return nil, errors.New("file store is nil")
	}
	r := &Runner{
		store:     store,
		converter: conv,
		files:     files,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run はジョブを実行します。
// 返すエラーはストアへの書き込み失敗など、ジョブ状態に反映できなかったものに限ります。
func (r *Runner) Run(ctx context.Context, task Task) (err error) {
	logger := r.logger.With().Str("job_id", task.JobID).Logger()
	// 状態の書き込みはキャンセル後も行う
	storeCtx := context.WithoutCancel(ctx)

	record, err := r.store.Get(storeCtx, task.JobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Debug().Msg("job no longer exists, skipping")
			return nil
		}
		return err
	}
	if record.Terminal() {
		return nil
	}

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("runner panicked")
			err = r.finishFailed(storeCtx, record, ErrorInfo{
				Kind:    KindInternal,
				Message: fmt.Sprintf("internal error: %v", p),
			}, logger)
		}
	}()

	result, info := r.execute(ctx, storeCtx, record, logger)
	switch {
	case info == nil:
		err = r.store.Update(storeCtx, record.ID, func(rec *Record) error {
			return complete(rec, result, msgComplete)
		})
		if errors.Is(err, ErrNotFound) {
			r.abandon(record, logger)
			return nil
		}
		if err != nil {
			return err
		}
		metrics.JobsFinished.WithLabelValues(string(StageComplete), "").Inc()
		if saved := result.OriginalSize - result.CompressedSize; saved > 0 {
			metrics.BytesSaved.Add(float64(saved))
		}
		logger.Info().
			Int64("original_size", result.OriginalSize).
			Int64("compressed_size", result.CompressedSize).
			Float64("reduction", result.Reduction).
			Msg("job completed")
		return nil
	case info.Kind == "":
		// ジョブが削除済み
		r.abandon(record, logger)
		return nil
	default:
		return r.finishFailed(storeCtx, record, *info, logger)
	}
}

// execute は各段階を進めます。失敗時は ErrorInfo を返し、ジョブ削除時は Kind が空の ErrorInfo を返します。
func (r *Runner) execute(ctx, storeCtx context.Context, record *Record, logger zerolog.Logger) (*Result, *ErrorInfo) {
	gone := &ErrorInfo{}
	step := func(stage Stage, message string) *ErrorInfo {
		err := r.store.Update(storeCtx, record.ID, func(rec *Record) error {
			return advance(rec, stage, message)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound):
			return gone
		default:
			return &ErrorInfo{Kind: KindInternal, Message: fmt.Sprintf("failed to update job state: %v", err)}
		}
	}

	// preparing
	if info := step(StagePreparing, msgPreparing); info != nil {
		return nil, info
	}
	if info := canceled(ctx); info != nil {
		return nil, info
	}
	if err := r.converter.Available(ctx); err != nil {
		if info := canceled(ctx); info != nil {
			return nil, info
		}
		logger.Warn().Err(err).Msg("ghostscript is not available")
		return nil, &ErrorInfo{
			Kind:    KindToolUnavailable,
			Message: "Ghostscript が見つかりません。先にインストールしてください。",
		}
	}

	// processing
	if info := step(StageProcessing, msgProcessing); info != nil {
		return nil, info
	}
	if info := canceled(ctx); info != nil {
		return nil, info
	}
	started := r.now()
	err := r.converter.Convert(ctx, record.InputPath, record.OutputPath, record.Profile)
	metrics.ConvertDuration.WithLabelValues(string(record.Profile)).Observe(r.now().Sub(started).Seconds())
	if err != nil {
		return nil, convertFailure(ctx, err)
	}

	// finalizing
	if info := step(StageFinalizing, msgFinalizing); info != nil {
		return nil, info
	}
	originalSize, err := r.files.Size(record.InputPath)
	if err != nil {
		return nil, &ErrorInfo{Kind: KindInternal, Message: fmt.Sprintf("failed to stat input file: %v", err)}
	}
	compressedSize, err := r.files.Size(record.OutputPath)
	if err != nil {
		return nil, &ErrorInfo{Kind: KindInternal, Message: fmt.Sprintf("failed to stat output file: %v", err)}
	}
	result := &Result{
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Reduction:      Reduction(originalSize, compressedSize),
		Profile:        record.Profile,
		InputPath:      record.InputPath,
		OutputPath:     record.OutputPath,
		InputName:      record.InputName,
		OutputName:     record.OutputName,
	}
	if r.inspector != nil {
		pages, err := r.inspector.PageCount(record.OutputPath)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to count pages of compressed pdf")
		} else {
			result.Pages = pages
		}
	}
	return result, nil
}

func (r *Runner) finishFailed(ctx context.Context, record *Record, info ErrorInfo, logger zerolog.Logger) error {
	err := r.store.Update(ctx, record.ID, func(rec *Record) error {
		return fail(rec, info)
	})
	if errors.Is(err, ErrNotFound) {
		r.abandon(record, logger)
		return nil
	}
	if err != nil {
		return err
	}
	metrics.JobsFinished.WithLabelValues(string(StageFailed), string(info.Kind)).Inc()
	logger.Warn().Str("kind", string(info.Kind)).Str("error", info.Message).Msg("job failed")
	return nil
}

// abandon は削除済みジョブが書き込んだ可能性のあるファイルを片付けます。
func (r *Runner) abandon(record *Record, logger zerolog.Logger) {
	logger.Info().Msg("job was cleaned up while running")
	for _, path := range []string{record.InputPath, record.OutputPath} {
		if err := r.files.Remove(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to remove file")
		}
	}
}

func canceled(ctx context.Context) *ErrorInfo {
	if ctx.Err() == nil {
		return nil
	}
	return &ErrorInfo{Kind: KindCanceled, Message: "圧縮はキャンセルされました"}
}

func convertFailure(ctx context.Context, err error) *ErrorInfo {
	var execErr *converter.ExecError
	switch {
	case errors.Is(err, converter.ErrTimeout):
		return &ErrorInfo{Kind: KindTimeout, Message: "PDFの圧縮が制限時間を超えました"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return &ErrorInfo{Kind: KindCanceled, Message: "圧縮はキャンセルされました"}
	case errors.As(err, &execErr):
		return &ErrorInfo{
			Kind:        KindExecution,
			Message:     fmt.Sprintf("Ghostscript がエラー終了しました（終了コード %d）", execErr.ExitCode),
			Diagnostics: execErr.Diagnostics,
		}
	case errors.Is(err, converter.ErrUnavailable):
		return &ErrorInfo{Kind: KindToolUnavailable, Message: "Ghostscript が見つかりません。先にインストールしてください。"}
	default:
		return &ErrorInfo{Kind: KindInternal, Message: fmt.Sprintf("failed to run ghostscript: %v", err)}
	}
}
