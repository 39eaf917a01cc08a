package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// SaveVersion фиксирует новую версию Blueprint в истории.
// Вызывается до подмены версии в in-memory реестре: если база недоступна,
// изменение не применяется (история версий первична).
func (r *Repo) SaveVersion(ctx context.Context, bp *domain.Blueprint, reason string) error {
	doc, err := json.Marshal(bp)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal blueprint: %w", err)
	}

	query := `INSERT INTO blueprint_versions (service_name, version, document, change_reason)
	          VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, query, bp.Service, bp.Version, doc, reason); err != nil {
		return fmt.Errorf("postgres: failed to save blueprint version: %w", err)
	}
	return nil
}

// ListVersions — история изменений Blueprint сервиса, новые сверху
func (r *Repo) ListVersions(ctx context.Context, service string, limit int) ([]*domain.Blueprint, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `SELECT document FROM blueprint_versions
	          WHERE service_name = $1
	          ORDER BY version DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, service, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query blueprint versions: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.Blueprint, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan blueprint version: %w", err)
		}
		var bp domain.Blueprint
		if err := json.Unmarshal(doc, &bp); err != nil {
			return nil, fmt.Errorf("postgres: corrupt blueprint document: %w", err)
		}
		results = append(results, &bp)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}
