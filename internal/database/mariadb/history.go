package mariadb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
)

// HistoryRepository stores the action history.
type HistoryRepository struct {
	pool *Pool
}

// AppendHistory inserts one entry.
func (r *HistoryRepository) AppendHistory(ctx context.Context, e database.HistoryEntry) error {
	e = e.Clipped()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO historial (usuario_id, accion, metodo, endpoint, ip, user_agent, detalle, fecha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sql.NullInt64{Int64: e.UserID, Valid: e.UserID != 0},
		e.Action, e.Method, e.Endpoint, e.IP, e.UserAgent, e.Detail, e.CreatedAt.UTC())
	if err != nil {
		return apperr.Storage("insert history", err)
	}
	return nil
}

// ListHistory returns one keyset page, newest first.
func (r *HistoryRepository) ListHistory(ctx context.Context, q database.HistoryQuery) ([]database.HistoryEntry, error) {
	var where []string
	var args []any

	if q.UserID != 0 {
		where, args = append(where, "usuario_id = ?"), append(args, q.UserID)
	}
	if q.Action != "" {
		where, args = append(where, "accion = ?"), append(args, q.Action)
	}
	if !q.Since.IsZero() {
		where, args = append(where, "fecha >= ?"), append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		where, args = append(where, "fecha < ?"), append(args, q.Until.UTC())
	}
	if q.After != nil {
		at := q.After.CreatedAt.UTC()
		where = append(where, "(fecha < ? OR (fecha = ? AND id < ?))")
		args = append(args, at, at, q.After.ID)
	}

	limit := q.Limit
	if limit <= 0 || limit > database.MaxHistoryPageSize {
		limit = database.MaxHistoryPageSize
	}

	query := `SELECT id, COALESCE(usuario_id, 0), accion, metodo, endpoint, ip, user_agent, detalle, fecha FROM historial`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY fecha DESC, id DESC LIMIT ?"
	args = append(args, limit)

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
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM historial WHERE fecha < ?`, before.UTC())
	if err != nil {
		return 0, apperr.Storage("purge history", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, apperr.Storage("rows affected", err)
	}
	return n, nil
}
