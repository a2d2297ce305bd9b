package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// UserRepository stores users with their embedding in a pgvector column.
type UserRepository struct {
	pool *Pool
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(pool *Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func toVector(e facematch.Embedding) pgvector.Vector {
	return pgvector.NewVector(e.Float32())
}

// GetUser retrieves a user including the embedding.
func (r *UserRepository) GetUser(ctx context.Context, id int64) (*database.User, error) {
	query := `
		SELECT id, nombre, apellido, email, imagen, embedding, creado, actualizado
		FROM usuarios
		WHERE id = $1
	`

	var u database.User
	var vec pgvector.Vector
	err := r.pool.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Surname, &u.Email, &u.ImagePath, &vec, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Storage("get user", err)
	}
	u.Embedding = facematch.FromFloat32(vec.Slice())
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
		var vec pgvector.Vector
		if err := rows.Scan(&c.UserID, &vec); err != nil {
			return nil, apperr.Storage("scan embedding", err)
		}
		c.Embedding = facematch.FromFloat32(vec.Slice())
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
	query := `
		INSERT INTO usuarios (nombre, apellido, email, imagen, embedding)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.pool.db.QueryRowContext(ctx, query,
		u.Name, u.Surname, u.Email, u.ImagePath, toVector(u.Embedding),
	).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("email %s: %w", u.Email, apperr.ErrEmailTaken)
	}
	if err != nil {
		return 0, apperr.Storage("insert user", err)
	}
	return id, nil
}

// UpdateUser applies a patch in one statement.
func (r *UserRepository) UpdateUser(ctx context.Context, id int64, patch database.UserPatch) error {
	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.Name != nil {
		set("nombre", *patch.Name)
	}
	if patch.Surname != nil {
		set("apellido", *patch.Surname)
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.ImagePath != nil {
		set("imagen", *patch.ImagePath)
	}
	if patch.Embedding != nil {
		set("embedding", toVector(patch.Embedding))
	}
	sets = append(sets, "actualizado = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE usuarios SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	result, err := r.pool.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return fmt.Errorf("update user %d: %w", id, apperr.ErrEmailTaken)
	}
	if err != nil {
		return apperr.Storage("update user", err)
	}
	return requireAffected(result, id)
}

// DeleteUser removes a user row.
func (r *UserRepository) DeleteUser(ctx context.Context, id int64) error {
	result, err := r.pool.db.ExecContext(ctx, `DELETE FROM usuarios WHERE id = $1`, id)
	if err != nil {
		return apperr.Storage("delete user", err)
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Storage("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}
