package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
)

// HistoryRepository stores the action history.
type HistoryRepository struct {
	pool *Pool
}

// NewHistoryRepository creates a new PostgreSQL history repository.
func NewHistoryRepository(pool *Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func nullUserID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// AppendHistory inserts one entry.
func (r *HistoryRepository) AppendHistory(ctx context.Context, e database.HistoryEntry) error {
	e = e.Clipped()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO historial (usuario_id, accion, metodo, endpoint, ip, user_agent, detalle, fecha)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		nullUserID(e.UserID), e.Action, e.Method, e.Endpoint, e.IP, e.UserAgent, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return apperr.Storage("insert history", err)
	}
	return nil
}

// ListHistory returns one keyset page, newest first.
func (r *HistoryRepository) ListHistory(ctx context.Context, q database.HistoryQuery) ([]database.HistoryEntry, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.UserID != 0 {
		where = append(where, "usuario_id = "+arg(q.UserID))
	}
	if q.Action != "" {
		where = append(where, "accion = "+arg(q.Action))
	}
	if !q.Since.IsZero() {
		where = append(where, "fecha >= "+arg(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "fecha < "+arg(q.Until))
	}
	if q.After != nil {
		where = append(where, fmt.Sprintf("(fecha, id) < (%s, %s)", arg(q.After.CreatedAt), arg(q.After.ID)))
	}

	limit := q.Limit
	if limit <= 0 || limit > database.MaxHistoryPageSize {
		limit = database.MaxHistoryPageSize
	}

	query := `SELECT id, COALESCE(usuario_id, 0), accion, metodo, endpoint, ip, user_agent, detalle, fecha FROM historial`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY fecha DESC, id DESC LIMIT " + arg(limit)

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage("query history", err)
	}
	defer rows.Close()

	var out []database.HistoryEntry
	for rows.Next() {
		var e database.HistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Method, &e.Endpoint, &e.IP, &e.UserAgent, &e.Detail, &e.CreatedAt); err != nil {
			return nil, apperr.Storage("scan history", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate history", err)
	}
	return out, nil
}

// PurgeHistory deletes entries older than before.
func (r *HistoryRepository) PurgeHistory(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM historial WHERE fecha < $1`, before)
	if err != nil {
		return 0, apperr.Storage("purge history", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.Storage("rows affected", err)
	}
	return n, nil
}
