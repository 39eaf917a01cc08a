package postgres

/*
Файл approval_repo.go содержит реализацию хранилища заявок на подтверждение
(Human-in-the-loop). Governor создает заявку и подвисает на брокере,
оператор через Console принимает решение — статус меняется атомарно.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// CreateApproval создает запись в таблице approvals.
// Это позволяет операторам через Console API увидеть решение,
// исполнение которого было приостановлено контуром.
func (r *Repo) CreateApproval(ctx context.Context, app *domain.ApprovalRequest) error {
	approvers, _ := json.Marshal(app.Approvers)

	query := `INSERT INTO approvals (id, governance_check_id, decision_id, service_name, approvers, status, created_at, timeout_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		app.ID, app.GovernanceCheckID, app.DecisionID, app.ServiceName,
		approvers, app.Status, app.CreatedAt, app.TimeoutAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval request: %w", err)
	}
	return nil
}

// ResolveApproval атомарно переводит заявку в терминальный статус.
// Условие WHERE status = 'pending' исключает double decision:
// второй ответ (или гонка таймаута с оператором) не находит строку.
func (r *Repo) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewer, comment string) error {
	query := `
		UPDATE approvals
		SET status = $1,
		    responded_by = NULLIF($2, ''),
		    comment = NULLIF($3, ''),
		    responded_at = NOW()
		WHERE id = $4 AND status = 'pending'
		RETURNING id`

	var resolved string
	err := r.pool.QueryRow(ctx, query, status, reviewer, comment, id).Scan(&resolved)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: failed to resolve approval: %w", err)
	}

	// Строка не обновилась: либо ID неверный, либо решение уже принято.
	// Различаем, чтобы вызывающий мог добрать фактический статус из базы.
	existing, getErr := r.GetApproval(ctx, id)
	if getErr != nil {
		return getErr
	}
	if existing.Status != domain.ApprovalPending {
		return domain.ErrAlreadyProcessed
	}
	return fmt.Errorf("postgres: approval %s not resolved", id)
}

// GetApproval — детали заявки для анализа
func (r *Repo) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT id, governance_check_id, decision_id, service_name, approvers, status,
	                 responded_by, comment, created_at, timeout_at, responded_at
	          FROM approvals WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	app, err := scanApproval(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("approval not found: %w", err)
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return app, nil
}

// FindApprovals — очередь решений для консоли (фильтр по статусу)
func (r *Repo) FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	query := `SELECT id, governance_check_id, decision_id, service_name, approvers, status,
	                 responded_by, comment, created_at, timeout_at, responded_at
	          FROM approvals`

	var args []interface{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ApprovalRequest, 0)

	for rows.Next() {
		app, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
		}
		results = append(results, app)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var app domain.ApprovalRequest
	var approvers []byte
	var respondedBy, comment *string
	var respondedAt *time.Time

	err := row.Scan(
		&app.ID,
		&app.GovernanceCheckID,
		&app.DecisionID,
		&app.ServiceName,
		&approvers,
		&app.Status,
		&respondedBy,
		&comment,
		&app.CreatedAt,
		&app.TimeoutAt,
		&respondedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(approvers) > 0 {
		_ = json.Unmarshal(approvers, &app.Approvers)
	}
	app.RespondedBy = respondedBy
	app.Comment = comment
	app.RespondedAt = respondedAt

	return &app, nil
}
