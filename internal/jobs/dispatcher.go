package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Handler はディスパッチャから呼び出されるジョブ実行関数です。
type Handler func(ctx context.Context, task Task) error

// Dispatcher はジョブをワーカーへ配送します。
type Dispatcher interface {
	// Start は handler を使ってワーカーを起動します。
	Start(handler Handler) error
	// Dispatch はタスクを投入します。待たずに返ります。
	Dispatch(ctx context.Context, task Task) error
	// Shutdown は新規投入を止め、実行中のジョブの終了を待ちます。
	Shutdown(ctx context.Context) error
}

// Pool はプロセス内の固定数ワーカーでジョブを実行します。
type Pool struct {
	concurrency int
	queue       chan Task
	logger      zerolog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
	stop    context.CancelFunc
}

// NewPool は Pool を作成します。queueSize を超える待ちタスクは ErrQueueFull になります。
func NewPool(concurrency, queueSize int, logger zerolog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		concurrency: concurrency,
		queue:       make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start はワーカーを起動します。
func (p *Pool) Start(handler Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrDispatcherClosed
	}
	if p.started {
		return errors.New("pool already started")
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.stop = cancel
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.work(ctx, i, handler)
	}
	return nil
}

func (p *Pool) work(ctx context.Context, id int, handler Handler) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker", id).Logger()
	for task := range p.queue {
		if err := handler(ctx, task); err != nil {
			logger.Error().Err(err).Str("job_id", task.JobID).Msg("job handler returned error")
		}
	}
}

// Dispatch はタスクをキューに積みます。キューが満杯なら ErrQueueFull を返します。
func (p *Pool) Dispatch(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrDispatcherClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown はキューを閉じ、ワーカーが残りのタスクを処理し終えるのを待ちます。
// ctx が先に終了した場合は実行中のジョブをキャンセルし、ctx のエラーを返します。
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	stop := p.stop
	p.mu.Unlock()

	if stop == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		stop()
		return nil
	case <-ctx.Done():
		stop()
		<-done
		return ctx.Err()
	}
}
