package audit

/*
Файл trail.go реализует журнал контура управления (Audit Trail).

- Non-blocking Logging: пайплайны сервисов пишут в неблокирующий канал,
  задержки БД не влияют на время цикла.
- Batching: накопление в памяти и пакетная запись в PostgreSQL по таймеру
  или при достижении лимита.
- Drain Pattern: при остановке канал закрывается, воркер вычитывает остаток
  и делает финальный flush — записи не теряются при перезапуске.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются записи
type StorageInterface interface {
	WriteBatch(ctx context.Context, entries []Entry) error
}

// Logger — то, что видят компоненты контура
type Logger interface {
	Record(entry Entry)
}

const (
	defaultBufferSize = 10000
	batchLimit        = 100
	flushInterval     = 500 * time.Millisecond
)

type Trail struct {
	ch     chan Entry
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup
	// Защита от Record после остановки (0 - открыт, 1 - закрыт)
	isClosed int32
}

func NewTrail(repo StorageInterface, logger *zap.Logger) *Trail {
	return &Trail{
		ch:     make(chan Entry, defaultBufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit-trail")),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход и ждет, пока воркер всё допишет
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Record(entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit entry dropped: trail is stopping", zap.String("id", entry.ID))
		return
	}

	// Load Shedding: при переполнении буфера пишем хотя бы в zap,
	// чтобы не терять след в критических ситуациях
	select {
	case t.ch <- entry:
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("service", entry.ServiceName),
			zap.String("decision_id", entry.DecisionID),
			zap.String("kind", string(entry.Kind)),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Entry, 0, batchLimit)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case entry, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остаток, финальный flush, выходим
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchLimit {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
