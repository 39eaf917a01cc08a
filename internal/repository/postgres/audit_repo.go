package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/scalegov-prototype/internal/audit"
)

// WriteBatch пакетно сбрасывает накопленные события журнала.
// Вызывается асинхронным воркером, поэтому никаких per-row запросов.
func (r *Repo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_entries
	numFields := 7
	placeholderStr := ""
	vals := make([]interface{}, 0, len(entries)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range entries {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		detail, _ := json.Marshal(e.Detail)

		vals = append(vals,
			e.ID, e.ServiceName, e.DecisionID, e.Kind, e.Status, detail, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_entries (id, service_name, decision_id, kind, status, detail, timestamp) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}

// FindEntries — выборка журнала для консоли с фильтрами
func (r *Repo) FindEntries(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	query := `SELECT id, service_name, decision_id, kind, status, detail, timestamp
	          FROM audit_entries`

	var conds []string
	var args []interface{}

	addCond := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.ServiceName != "" {
		addCond("service_name = $%d", q.ServiceName)
	}
	if q.DecisionID != "" {
		addCond("decision_id = $%d", q.DecisionID)
	}
	if !q.From.IsZero() {
		addCond("timestamp >= $%d", q.From)
	}
	if !q.To.IsZero() {
		addCond("timestamp <= $%d", q.To)
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit entries: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]audit.Entry, 0)

	for rows.Next() {
		var e audit.Entry
		var detail []byte

		if err := rows.Scan(&e.ID, &e.ServiceName, &e.DecisionID, &e.Kind, &e.Status, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		results = append(results, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}
