package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facematch"
)

// duplicateEntry is the MySQL error number for a unique key violation.
const duplicateEntry = 1062

// UserRepository stores users with the embedding as a JSON array.
type UserRepository struct {
	pool *Pool
}

func isDuplicateEntry(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == duplicateEntry
}

func encodeEmbedding(e facematch.Embedding) ([]byte, error) {
	data, err := json.Marshal([]float64(e))
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return data, nil
}

func decodeEmbedding(data []byte) (facematch.Embedding, error) {
	var e facematch.Embedding
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	return e, nil
}

// GetUser retrieves a user including the embedding.
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*database.User, error) {
	query := `
		SELECT id, nombre, apellido, email, imagen, embedding, creado, actualizado
		FROM usuarios
		WHERE id = ?
	`

	var u database.User
	var raw []byte
	err := r.pool.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Surname, &u.Email, &u.ImagePath, &raw, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Storage("get user", err)
	}
	if u.Embedding, err = decodeEmbedding(raw); err != nil {
		return nil, apperr.Storage("get user", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by ID, without embeddings.
func (r *UserRepository) ListUsers(ctx context.Context) ([]database.User, error) {
	query := `
		SELECT id, nombre, apellido, email, imagen, creado, actualizado
		FROM usuarios
		ORDER BY id
	`

	rows, err := r.pool.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Storage("query users", err)
	}
	defer rows.Close()

	var users []database.User
	for rows.Next() {
		var u database.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Surname, &u.Email, &u.ImagePath, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, apperr.Storage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate users", err)
	}
	return users, nil
}

// ListEmbeddings returns every user's embedding ordered by ID.
func (r *UserRepository) ListEmbeddings(ctx context.Context) ([]facematch.Candidate, error) {
	rows, err := r.pool.db.QueryContext(ctx, `SELECT id, embedding FROM usuarios ORDER BY id`)
	if err != nil {
		return nil, apperr.Storage("query embeddings", err)
	}
	defer rows.Close()

	var out []facematch.Candidate
	for rows.Next() {
		var c facematch.Candidate
		var raw []byte
		if err := rows.Scan(&c.UserID, &raw); err != nil {
			return nil, apperr.Storage("scan embedding", err)
		}
		if c.Embedding, err = decodeEmbedding(raw); err != nil {
			return nil, apperr.Storage(fmt.Sprintf("user %d", c.UserID), err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate embeddings", err)
	}
	return out, nil
}

// CountUsers returns the number of users.
func (r *UserRepository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usuarios`).Scan(&n); err != nil {
		return 0, apperr.Storage("count users", err)
	}
	return n, nil
}

// CreateUser inserts a user and returns its ID.
func (r *UserRepository) CreateUser(ctx context.Context, u *database.User) (int64, error) {
	data, err := encodeEmbedding(u.Embedding)
	if err != nil {
		return 0, err
	}

	result, err := r.pool.db.ExecContext(ctx,
		`INSERT INTO usuarios (nombre, apellido, email, imagen, embedding) VALUES (?, ?, ?, ?, ?)`,
		u.Name, u.Surname, u.Email, u.ImagePath, data,
	)
	if isDuplicateEntry(err) {
		return 0, fmt.Errorf("email %s: %w", u.Email, apperr.ErrEmailTaken)
	}
	if err != nil {
		return 0, apperr.Storage("insert user", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, apperr.Storage("last insert id", err)
	}
	return id, nil
}

// exists checks for the row first because MySQL reports zero affected rows
// when an UPDATE leaves the data unchanged.
func (r *UserRepository) exists(ctx context.Context, id int64) error {
	var one int
	err := r.pool.db.QueryRowContext(ctx, `SELECT 1 FROM usuarios WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return apperr.Storage("check user", err)
	}
	return nil
}

// UpdateUser applies a patch in one statement.
func (r *UserRepository) UpdateUser(ctx context.Context, id int64, patch database.UserPatch) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}

	var sets []string
	var args []any
	if patch.Name != nil {
		sets, args = append(sets, "nombre = ?"), append(args, *patch.Name)
	}
	if patch.Surname != nil {
		sets, args = append(sets, "apellido = ?"), append(args, *patch.Surname)
	}
	if patch.Email != nil {
		sets, args = append(sets, "email = ?"), append(args, *patch.Email)
	}
	if patch.ImagePath != nil {
		sets, args = append(sets, "imagen = ?"), append(args, *patch.ImagePath)
	}
	if patch.Embedding != nil {
		data, err := encodeEmbedding(patch.Embedding)
		if err != nil {
			return err
		}
		sets, args = append(sets, "embedding = ?"), append(args, data)
	}
	sets = append(sets, "actualizado = CURRENT_TIMESTAMP(6)")
	args = append(args, id)

	query := "UPDATE usuarios SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	_, err := r.pool.db.ExecContext(ctx, query, args...)
	if isDuplicateEntry(err) {
		return fmt.Errorf("update user %d: %w", id, apperr.ErrEmailTaken)
	}
	if err != nil {
		return apperr.Storage("update user", err)
	}
	return nil
}

// DeleteUser removes a user row.
func (r *UserRepository) DeleteUser(ctx context.Context, id int64) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM usuarios WHERE id = ?`, id)
	if err != nil {
		return apperr.Storage("delete user", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}
