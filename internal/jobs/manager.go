package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourusername/pdf-squeeze/internal/converter"
	"github.com/yourusername/pdf-squeeze/internal/metrics"
)

// Manager はジョブの投入、進捗照会、結果取得、削除を担います。
type Manager struct {
	store      Store
	dispatcher Dispatcher
	runner     *Runner
	files      FileStore
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// ManagerConfig は Manager の依存関係です。
type ManagerConfig struct {
	Store      Store
	Dispatcher Dispatcher
	Runner     *Runner
	Files      FileStore
	Logger     zerolog.Logger
}

// SubmitRequest はジョブ投入時の入力です。
type SubmitRequest struct {
	InputPath string // 保存済み入力ファイルのパス
	InputName string // 利用者に見せる元のファイル名
	Profile   string // 空なら ebook
}

// NewManager は Manager を初期化します。
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	if cfg.Runner == nil {
		return nil, errors.New("runner is nil")
	}
	if cfg.Files == nil {
		return nil, errors.New("file store is nil")
	}
	return &Manager{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		runner:     cfg.Runner,
		files:      cfg.Files,
		logger:     cfg.Logger,
		now:        time.Now,
		newID:      uuid.NewString,
		cancels:    make(map[string]context.CancelFunc),
	}, nil
}

// Start はワーカーを起動します。
func (m *Manager) Start() error {
	return m.dispatcher.Start(m.handle)
}

// Shutdown は新規受付を止め、実行中のジョブの終了を待ちます。
// ctx の期限を過ぎた場合は残りのジョブをキャンセルします。
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.dispatcher.Shutdown(ctx)
	m.cancelAll()
	return err
}

// Submit はジョブを登録してワーカーへ投入し、ジョブIDを返します。
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if req.InputPath == "" {
		return "", errors.New("input path is required")
	}
	profile, err := converter.ParseProfile(req.Profile)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidProfile, req.Profile)
	}

	id := m.newID()
	outputPath, outputName := m.files.OutputPath(id, req.InputName)
	record := &Record{
		ID:         id,
		Stage:      StageQueued,
		Percent:    PercentQueued,
		Message:    msgQueued,
		Profile:    profile,
		InputPath:  req.InputPath,
		OutputPath: outputPath,
		InputName:  req.InputName,
		OutputName: outputName,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return "", err
	}
	if err := m.dispatcher.Dispatch(ctx, Task{JobID: id}); err != nil {
		if _, delErr := m.store.Delete(context.WithoutCancel(ctx), id); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			m.logger.Error().Err(delErr).Str("job_id", id).Msg("failed to delete undispatched job")
		}
		return "", err
	}

	metrics.JobsSubmitted.WithLabelValues(string(profile)).Inc()
	m.logger.Info().
		Str("job_id", id).
		Str("profile", string(profile)).
		Str("input", req.InputName).
		Msg("job submitted")
	return id, nil
}

// Progress はジョブの進捗を返します。存在しないIDには UnknownProgress を返します。
// エラーはストア自体の障害の場合のみ返します。
func (m *Manager) Progress(ctx context.Context, id string) (Progress, error) {
	record, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UnknownProgress(), nil
		}
		return UnknownProgress(), err
	}
	return ProgressOf(record), nil
}

// FinalizeAndFetch は終端状態のジョブの結果を返します。
// 実行中なら ErrNotReady、失敗していれば *JobError を返します。
func (m *Manager) FinalizeAndFetch(ctx context.Context, id string) (*Result, error) {
	record, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch record.Stage {
	case StageComplete:
		if record.Result == nil {
			return nil, &JobError{JobID: id, Kind: KindInternal, Message: "completed job has no result"}
		}
		result := *record.Result
		return &result, nil
	case StageFailed:
		jobErr := &JobError{JobID: id, Kind: KindInternal, Message: record.Message}
		if record.Error != nil {
			jobErr.Kind = record.Error.Kind
			jobErr.Message = record.Error.Message
			jobErr.Diagnostics = record.Error.Diagnostics
		}
		return nil, jobErr
	default:
		return nil, ErrNotReady
	}
}

// Cleanup は実行中ならキャンセルし、レコードと入出力ファイルを削除します。
// 存在しないIDやファイルはエラーにしません。
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	m.cancel(id)
	record, err := m.store.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	var errs []error
	for _, path := range []string{record.InputPath, record.OutputPath} {
		if err := m.files.Remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info().Str("job_id", id).Str("stage", string(record.Stage)).Msg("job cleaned up")
	return errors.Join(errs...)
}

// CleanupAll はすべてのジョブをキャンセルし、全レコードと両領域の全ファイルを削除します。
// 1件の失敗で中断せず、失敗はまとめて返します。
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.cancelAll()
	var errs []error
	n, err := m.store.DeleteAll(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("clear job store: %w", err))
	}
	if err := m.files.Purge(); err != nil {
		errs = append(errs, fmt.Errorf("purge files: %w", err))
	}
	m.logger.Info().Int("jobs", n).Msg("all jobs cleaned up")
	return errors.Join(errs...)
}

// Sweep は ttl より長く更新されていない終端状態のジョブを削除し、削除件数を返します。
func (m *Manager) Sweep(ctx context.Context, ttl time.Duration) (int, error) {
	records, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-ttl)
	removed := 0
	var errs []error
	for _, record := range records {
		if !record.Terminal() || record.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.Cleanup(ctx, record.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Dur("ttl", ttl).Msg("expired jobs swept")
	}
	return removed, errors.Join(errs...)
}

// handle はワーカーから呼ばれ、キャンセル可能なコンテキストで Runner を実行します。
func (m *Manager) handle(ctx context.Context, task Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.cancels[task.JobID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, task.JobID)
		m.mu.Unlock()
	}()

	return m.runner.Run(ctx, task)
}

func (m *Manager) cancel(id string) {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Manager) cancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.cancels {
		cancel()
	}
}
