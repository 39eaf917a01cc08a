package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"github.com/xela07ax/scalegov-prototype/internal/infra"
	"github.com/xela07ax/scalegov-prototype/internal/notify"
	"go.uber.org/zap"
)

// ApprovalStore — требования брокера к хранилищу заявок.
// Resolve обязан быть атомарным CAS по статусу pending (double decision guard).
type ApprovalStore interface {
	CreateApproval(ctx context.Context, req *domain.ApprovalRequest) error
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewer, comment string) error
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
}

// Resolution — чем закончилось ожидание
type Resolution struct {
	Status   domain.ApprovalStatus
	Reviewer string
	Comment  string
}

// DecisionSignal — формат сообщения в канале approvals (console -> governor)
type DecisionSignal struct {
	ApprovalRequestID string `json:"approval_request_id"`
	Status            string `json:"status"` // "approved" | "rejected"
	Reviewer          string `json:"reviewer"`
	Comment           string `json:"comment,omitempty"`
}

type waiter struct {
	ch    chan Resolution
	timer *time.Timer
}

// ApprovalBroker держит подвешенные пайплайны, ожидающие решения человека.
// Ожидание асинхронное: дедлайн-таймер на заявку срабатывает независимо от того,
// придет ответ или нет — никакого polling, пайплайны других сервисов не блокируются.
type ApprovalBroker struct {
	mu      sync.Mutex
	waiters map[string]*waiter

	store    ApprovalStore
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewApprovalBroker(store ApprovalStore, notifier notify.Notifier, logger *zap.Logger) *ApprovalBroker {
	return &ApprovalBroker{
		waiters:  make(map[string]*waiter),
		store:    store,
		notifier: notifier,
		logger:   logger.Named("approvals"),
		now:      time.Now,
	}
}

// Submit создает ApprovalRequest для restricted-решения и взводит дедлайн-таймер.
// timeoutAt = now + rule.timeout; по истечении заявка детерминированно уходит
// в timed_out даже без какого-либо дальнейшего ввода.
func (b *ApprovalBroker) Submit(ctx context.Context, check *domain.GovernanceCheck, dec *domain.Decision) (*domain.ApprovalRequest, error) {
	now := b.now()
	req := &domain.ApprovalRequest{
		ID:                uuid.New().String(),
		GovernanceCheckID: check.ID,
		DecisionID:        dec.ID,
		ServiceName:       dec.ServiceName,
		Approvers:         check.Approvers,
		Status:            domain.ApprovalPending,
		CreatedAt:         now,
		TimeoutAt:         now.Add(check.ApprovalTimeout),
	}

	if err := b.store.CreateApproval(ctx, req); err != nil {
		return nil, fmt.Errorf("approval create failed: %w", err)
	}

	// Waiter регистрируется ДО взвода таймера: expire с очень коротким
	// таймаутом не должен обогнать регистрацию и потерять резолюцию
	w := &waiter{ch: make(chan Resolution, 1)}
	b.mu.Lock()
	b.waiters[req.ID] = w
	w.timer = time.AfterFunc(check.ApprovalTimeout, func() {
		b.expire(req.ID, req.ServiceName)
	})
	b.mu.Unlock()

	// Доставка внешняя; ее провал не отменяет заявку — таймаут все равно сработает
	if err := b.notifier.SendApprovalRequest(ctx, req, dec); err != nil {
		b.logger.Error("approval notification failed", zap.String("approval_id", req.ID), zap.Error(err))
	}

	b.logger.Info("approval requested",
		zap.String("approval_id", req.ID),
		zap.String("service", req.ServiceName),
		zap.Time("timeout_at", req.TimeoutAt),
	)
	return req, nil
}

// Await подвешивает ТОЛЬКО пайплайн этого сервиса до терминального статуса.
func (b *ApprovalBroker) Await(ctx context.Context, id string) (Resolution, error) {
	b.mu.Lock()
	w, ok := b.waiters[id]
	b.mu.Unlock()
	if !ok {
		// Таймер (или оператор) мог закрыть заявку между Submit и Await —
		// waiter уже снят, но записанная резолюция лежит в хранилище
		if req, err := b.store.GetApproval(ctx, id); err == nil && req.Status.IsTerminal() {
			return resolutionOf(req), nil
		}
		return Resolution{}, fmt.Errorf("no pending approval %s", id)
	}

	select {
	case res := <-w.ch:
		return res, nil
	case <-ctx.Done():
		// Shutdown governor-а: заявка остается pending в БД,
		// console всё еще может решить — на старте RecoverPending
		// переоткроет незакрытые заявки и перевзведет их дедлайны
		return Resolution{}, ctx.Err()
	}
}

// RecoverPending переоткрывает незакрытые заявки после рестарта governor-а.
// Просроченные детерминированно уходят в timed_out с эскалацией, живым
// перевзводится дедлайн-таймер. Подвешенных пайплайнов после рестарта нет,
// поэтому ответ по пережившей заявке только фиксируется в хранилище:
// исполнять будет уже свежий Decision следующего цикла.
func (b *ApprovalBroker) RecoverPending(ctx context.Context) error {
	pending, err := b.store.FindApprovals(ctx, domain.ApprovalPending)
	if err != nil {
		return fmt.Errorf("pending approvals scan failed: %w", err)
	}

	now := b.now()
	rearmed := 0
	for _, req := range pending {
		if !req.TimeoutAt.After(now) {
			b.expire(req.ID, req.ServiceName)
			continue
		}
		id, service := req.ID, req.ServiceName
		time.AfterFunc(req.TimeoutAt.Sub(now), func() {
			b.expire(id, service)
		})
		rearmed++
	}

	if len(pending) > 0 {
		b.logger.Info("pending approvals recovered",
			zap.Int("total", len(pending)),
			zap.Int("rearmed", rearmed),
		)
	}
	return nil
}

// Resolve применяет решение оператора (или отмену). Единая точка арбитража:
// store делает атомарный CAS, проигравший (второй ответ, гонка с таймером)
// получает ErrAlreadyProcessed и не будит пайплайн.
func (b *ApprovalBroker) Resolve(ctx context.Context, id string, status domain.ApprovalStatus, reviewer, comment string) error {
	if !status.IsTerminal() {
		return domain.ErrInvalidTransition
	}

	if err := b.store.ResolveApproval(ctx, id, status, reviewer, comment); err != nil {
		return err
	}

	b.wake(id, Resolution{Status: status, Reviewer: reviewer, Comment: comment})
	b.logger.Info("approval resolved",
		zap.String("approval_id", id),
		zap.String("status", string(status)),
		zap.String("reviewer", reviewer),
	)
	return nil
}

// Cancel — условие рассосалось само (свежая оценка дала no_action).
// Терминал cancelled, отличимый от rejected/timed_out в аудите.
func (b *ApprovalBroker) Cancel(ctx context.Context, id string) error {
	return b.Resolve(ctx, id, domain.ApprovalCancelled, "", "condition resolved before response")
}

// expire — дедлайн-таймер. timed_out трактуется как reject для исполнения,
// но эскалируется: это нерешенное состояние, а не решение.
func (b *ApprovalBroker) expire(id, service string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.store.ResolveApproval(ctx, id, domain.ApprovalTimedOut, "", "approval deadline expired")
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			// Оператор успел раньше таймера. Таймер работает backstop-ом:
			// если сигнал из Redis потерялся, будим пайплайн записанным статусом
			b.wakeFromStore(ctx, id)
			return
		}
		b.logger.Error("approval expire failed", zap.String("approval_id", id), zap.Error(err))
		return
	}

	b.wake(id, Resolution{Status: domain.ApprovalTimedOut})

	if escErr := b.notifier.SendEscalation(ctx, service, fmt.Sprintf("approval %s timed out without response", id)); escErr != nil {
		b.logger.Error("escalation failed", zap.Error(escErr))
	}
	b.logger.Warn("approval timed out", zap.String("approval_id", id), zap.String("service", service))
}

func (b *ApprovalBroker) wake(id string, res Resolution) {
	b.mu.Lock()
	w, ok := b.waiters[id]
	if ok {
		delete(b.waiters, id)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	// Буферизованный канал: wake не блокируется, даже если Await уже ушел по ctx
	w.ch <- res
}

// HasPending — есть ли подвешенная заявка (для отмены координатором)
func (b *ApprovalBroker) HasPending(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.waiters[id]
	return ok
}

// StartListener подписывается на решения оператора из Console API.
// Живучая подписка: переподключение при обрыве, как и все слушатели сигналов.
func (b *ApprovalBroker) StartListener(ctx context.Context, rdb *redis.Client) {
	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanApprovalDecisions)

		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			b.logger.Error("approval channel subscribe failed", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				b.handleSignal(ctx, msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

func (b *ApprovalBroker) handleSignal(ctx context.Context, payload string) {
	var sig DecisionSignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		b.logger.Error("invalid approval signal", zap.String("payload", payload), zap.Error(err))
		return
	}

	var status domain.ApprovalStatus
	switch sig.Status {
	case string(domain.ApprovalApproved):
		status = domain.ApprovalApproved
	case string(domain.ApprovalRejected):
		status = domain.ApprovalRejected
	default:
		b.logger.Error("unexpected status in approval signal", zap.String("status", sig.Status))
		return
	}

	if err := b.Resolve(ctx, sig.ApprovalRequestID, status, sig.Reviewer, sig.Comment); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			// Штатный путь: консоль сама записала решение в БД атомарно,
			// сигнал лишь будит подвешенный пайплайн записанным статусом
			b.wakeFromStore(ctx, sig.ApprovalRequestID)
			return
		}
		b.logger.Error("approval signal apply failed", zap.String("approval_id", sig.ApprovalRequestID), zap.Error(err))
	}
}

// wakeFromStore будит ожидающий пайплайн терминальным статусом из хранилища.
// Источник правды — БД: кто бы ни выиграл CAS (оператор или таймер),
// пайплайн получает ровно одно, записанное, решение.
func (b *ApprovalBroker) wakeFromStore(ctx context.Context, id string) {
	req, err := b.store.GetApproval(ctx, id)
	if err != nil {
		b.logger.Error("approval lookup failed", zap.String("approval_id", id), zap.Error(err))
		return
	}
	if !req.Status.IsTerminal() {
		return
	}
	b.wake(id, resolutionOf(req))
}

func resolutionOf(req *domain.ApprovalRequest) Resolution {
	res := Resolution{Status: req.Status}
	if req.RespondedBy != nil {
		res.Reviewer = *req.RespondedBy
	}
	if req.Comment != nil {
		res.Comment = *req.Comment
	}
	return res
}
