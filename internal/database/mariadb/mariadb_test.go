package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facematch"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return NewStore(&Pool{db: db}), mock
}

func TestCreateUser_StoresJSONEmbedding(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectExec(`INSERT INTO usuarios \(nombre, apellido, email, imagen, embedding\) VALUES \(\?, \?, \?, \?, \?\)`).
		WithArgs("Ana", "Lopez", "ana@example.com", "users/a.jpg", []byte("[0.5,-0.25]")).
		WillReturnResult(sqlmock.NewResult(21, 1))

	id, err := store.CreateUser(context.Background(), &database.User{
		Name: "Ana", Surname: "Lopez", Email: "ana@example.com", ImagePath: "users/a.jpg",
		Embedding: facematch.Embedding{0.5, -0.25},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 21 {
		t.Errorf("expected id 21, got %d", id)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectExec(`INSERT INTO usuarios`).
		WillReturnError(&mysql.MySQLError{Number: duplicateEntry, Message: "Duplicate entry"})

	_, err := store.CreateUser(context.Background(), &database.User{Email: "ana@example.com", Embedding: facematch.Embedding{1}})
	if !errors.Is(err, apperr.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestGetUser_DecodesEmbedding(t *testing.T) {
	store, mock := newStoreWithMock(t)
	now := time.Now()
	mock.ExpectQuery(`FROM usuarios\s+WHERE id = \?`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nombre", "apellido", "email", "imagen", "embedding", "creado", "actualizado"}).
			AddRow(int64(3), "Ana", "Lopez", "ana@example.com", "users/a.jpg", []byte("[1,0,0.5]"), now, now))

	u, err := store.GetUser(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Embedding) != 3 || u.Embedding[2] != 0.5 {
		t.Errorf("unexpected embedding %v", u.Embedding)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(`FROM usuarios`).WillReturnError(sql.ErrNoRows)

	if _, err := store.GetUser(context.Background(), 3); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUser_ChecksExistenceFirst(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(`SELECT 1 FROM usuarios WHERE id = \?`).WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)

	name := "Ana"
	err := store.UpdateUser(context.Background(), 5, database.UserPatch{Name: &name})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateUser_UnchangedRowIsNotAnError(t *testing.T) {
	store, mock := newStoreWithMock(t)
	name := "Ana"
	mock.ExpectQuery(`SELECT 1 FROM usuarios WHERE id = \?`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(`UPDATE usuarios SET nombre = \?, actualizado = CURRENT_TIMESTAMP\(6\) WHERE id = \?`).
		WithArgs("Ana", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdateUser(context.Background(), 5, database.UserPatch{Name: &name}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateUser_DuplicateEmail(t *testing.T) {
	store, mock := newStoreWithMock(t)
	email := "taken@example.com"
	mock.ExpectQuery(`SELECT 1 FROM usuarios`).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(`UPDATE usuarios SET email = \?`).
		WillReturnError(&mysql.MySQLError{Number: duplicateEntry})

	err := store.UpdateUser(context.Background(), 5, database.UserPatch{Email: &email})
	if !errors.Is(err, apperr.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestListEmbeddings_CorruptJSON(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(`SELECT id, embedding FROM usuarios`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "embedding"}).AddRow(int64(1), []byte("not json")))

	_, err := store.ListEmbeddings(context.Background())
	if !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestListHistory_KeysetQuery(t *testing.T) {
	store, mock := newStoreWithMock(t)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM historial WHERE accion = \? AND \(fecha < \? OR \(fecha = \? AND id < \?\)\) ORDER BY fecha DESC, id DESC LIMIT \?`).
		WithArgs("user_created", at, at, int64(10), 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "usuario_id", "accion", "metodo", "endpoint", "ip", "user_agent", "detalle", "fecha"}).
			AddRow(int64(9), int64(0), "user_created", "POST", "/subirUsuario", "", "", "", at.Add(-time.Minute)))

	got, err := store.ListHistory(context.Background(), database.HistoryQuery{
		Action: "user_created",
		After:  &database.HistoryCursor{CreatedAt: at, ID: 10},
		Limit:  5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Endpoint != "/subirUsuario" {
		t.Errorf("unexpected entries %+v", got)
	}
}

func TestPurgeHistory(t *testing.T) {
	store, mock := newStoreWithMock(t)
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM historial WHERE fecha < \?`).WithArgs(before).WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.PurgeHistory(context.Background(), before)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 purged, got %d (%v)", n, err)
	}
}
