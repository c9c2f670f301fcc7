package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	taskTypeCompress = "pdf:compress"
	queueName        = "pdf"
)

// AsynqDispatcher は Redis 上の asynq キューでジョブを配送します。
// 複数プロセスで状態を共有するため RedisStore と組み合わせて使います。
type AsynqDispatcher struct {
	client *asynq.Client
	server *asynq.Server
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewAsynqDispatcher は redisURL に接続する AsynqDispatcher を作成します。
func NewAsynqDispatcher(redisURL string, concurrency int, logger zerolog.Logger) (*AsynqDispatcher, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			LogLevel: asynq.WarnLevel,
		},
	)
	return &AsynqDispatcher{
		client: asynq.NewClient(opt),
		server: server,
		logger: logger,
	}, nil
}

// Start は asynq サーバーをバックグラウンドで起動します。
func (d *AsynqDispatcher) Start(handler Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if d.started {
		return errors.New("asynq dispatcher already started")
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeCompress, func(ctx context.Context, t *asynq.Task) error {
		task, err := decodeTask(t.Payload())
		if err != nil {
			// 壊れたペイロードは再試行しても直らない
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return handler(ctx, task)
	})
	if err := d.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	d.started = true
	return nil
}

// Dispatch はタスクを asynq に投入します。再試行は行いません。
func (d *AsynqDispatcher) Dispatch(ctx context.Context, task Task) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrDispatcherClosed
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(taskTypeCompress, body, asynq.Queue(queueName)), asynq.MaxRetry(0))
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", task.JobID, err)
	}
	d.logger.Debug().Str("job_id", task.JobID).Str("task_id", info.ID).Msg("job enqueued")
	return nil
}

// Shutdown はサーバーとクライアントを閉じます。
func (d *AsynqDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if started {
			d.server.Shutdown()
		}
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	return errors.Join(err, d.client.Close())
}

func decodeTask(payload []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return Task{}, err
	}
	if task.JobID == "" {
		return Task{}, errors.New("missing jobId in payload")
	}
	return task, nil
}
