// Package users orchestrates registration, face login and user maintenance
// on top of the registry, token manager, blob store and relational store.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/blob"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/embedder"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/history"
	"github.com/kozaktomas/face-gate/internal/registry"
	"github.com/kozaktomas/face-gate/internal/retrier"
	"github.com/kozaktomas/face-gate/internal/session"
)

const defaultStoreTimeout = 5 * time.Second

// Deps are the collaborators of a Service.
type Deps struct {
	Store    database.UserWriter
	Blobs    blob.Store
	Embedder embedder.Provider
	Registry *registry.Registry
	Tokens   *session.Manager
	History  *history.Recorder
	Logger   *slog.Logger

	// StoreTimeout bounds every relational and blob store call.
	StoreTimeout time.Duration
	// Retry bounds retries of store reads. Writes are never retried.
	Retry retrier.Policy
}

// Service is safe for concurrent use.
type Service struct {
	store        database.UserWriter
	blobs        blob.Store
	embedder     embedder.Provider
	registry     *registry.Registry
	tokens       *session.Manager
	history      *history.Recorder
	log          *slog.Logger
	storeTimeout time.Duration
	retry        retrier.Policy
}

// New creates a Service.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = defaultStoreTimeout
	}
	return &Service{
		store:        d.Store,
		blobs:        d.Blobs,
		embedder:     d.Embedder,
		registry:     d.Registry,
		tokens:       d.Tokens,
		history:      d.History,
		log:          d.Logger,
		storeTimeout: d.StoreTimeout,
		retry:        d.Retry,
	}
}

// AuthResult is a successful face login.
type AuthResult struct {
	Token    session.Token
	User     database.User
	Distance float64
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// cleanupCtx outlives a cancelled request so compensating deletes still run.
func (s *Service) cleanupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

// storeErr keeps domain errors intact and classifies everything else.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrEmailTaken),
		errors.Is(err, apperr.ErrStorage),
		errors.Is(err, apperr.ErrTimeout):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, apperr.ErrTimeout, err)
	default:
		return apperr.Storage(op, err)
	}
}

// read runs a store read, retrying transient failures. Each attempt gets its
// own store timeout.
func (s *Service) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retrier.Do(ctx, s.retry, func(ctx context.Context) error {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()
		return storeErr(op, fn(sctx))
	})
}

// getUser loads a user with retries.
func (s *Service) getUser(ctx context.Context, id int64) (*database.User, error) {
	var u *database.User
	err := s.read(ctx, fmt.Sprintf("loading user %d", id), func(ctx context.Context) error {
		var err error
		u, err = s.store.GetUser(ctx, id)
		return err
	})
	return u, err
}

// issue hands out a token for userID and confirms the user still exists
// afterwards. Delete removes the row before revoking the user's tokens, so a
// token issued concurrently with a delete is either revoked by it or by this
// check.
func (s *Service) issue(ctx context.Context, userID int64) (session.Token, error) {
	token, err := s.tokens.Issue(userID)
	if err != nil {
		return session.Token{}, err
	}
	if userID == session.AnonymousUserID {
		return token, nil
	}
	if _, err := s.getUser(ctx, userID); err != nil {
		s.tokens.Revoke(token.Value)
		return session.Token{}, err
	}
	return token, nil
}

func (s *Service) deleteBlob(ctx context.Context, path string) {
	if path == "" {
		return
	}
	ctx, cancel := s.cleanupCtx(ctx)
	defer cancel()
	if err := s.blobs.Delete(ctx, path); err != nil {
		s.log.Warn("failed to delete image", "path", path, "error", err)
	}
}

// extract validates the image and computes its embedding.
func (s *Service) extract(ctx context.Context, image []byte) (blob.ImageInfo, facematch.Embedding, error) {
	info, err := blob.Sniff(image)
	if err != nil {
		return info, nil, err
	}
	emb, err := s.embedder.Extract(ctx, image)
	if err != nil {
		return info, nil, fmt.Errorf("extracting embedding: %w", err)
	}
	return info, emb, nil
}

// Create registers a new user. The face must not match any registered user.
func (s *Service) Create(ctx context.Context, in CreateInput) (*database.User, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	info, emb, err := s.extract(ctx, in.Image)
	if err != nil {
		return nil, err
	}

	user := &database.User{
		Name:      in.Name,
		Surname:   in.Surname,
		Email:     in.Email,
		Embedding: emb,
	}
	id, err := s.registry.Admit(ctx, emb, 0, func(ctx context.Context) (int64, error) {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()

		path, err := s.blobs.Save(sctx, in.Image, info)
		if err != nil {
			return 0, storeErr("saving image", err)
		}
		user.ImagePath = path

		id, err := s.store.CreateUser(sctx, user)
		if err != nil {
			s.deleteBlob(ctx, path)
			return 0, storeErr("creating user", err)
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}

	user.ID = id
	s.log.Info("user created", "user_id", id)
	s.history.RecordAction(ctx, history.ActionUserCreated, id, in.Email)
	return s.reload(ctx, user), nil
}

// reload returns the stored row, falling back to the given user if the read fails.
func (s *Service) reload(ctx context.Context, fallback *database.User) *database.User {
	u, err := s.getUser(ctx, fallback.ID)
	if err != nil {
		s.log.Warn("failed to reload user", "user_id", fallback.ID, "error", err)
		fallback.Embedding = nil
		return fallback
	}
	return u
}

// AuthenticateByFace matches the face against every registered user and
// issues a token for the closest one within the threshold.
func (s *Service) AuthenticateByFace(ctx context.Context, image []byte) (*AuthResult, error) {
	_, emb, err := s.extract(ctx, image)
	if err != nil {
		return nil, err
	}

	res, err := s.registry.Authenticate(ctx, emb)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		s.history.RecordAction(ctx, history.ActionFaceRejected, 0, fmt.Sprintf("candidates=%d", s.registry.Len()))
		return nil, fmt.Errorf("face not recognized: %w", apperr.ErrUnauthorized)
	}

	user, err := s.getUser(ctx, res.UserID)
	if err != nil {
		return nil, vanished(res.UserID, err)
	}
	token, err := s.issue(ctx, user.ID)
	if err != nil {
		return nil, vanished(res.UserID, err)
	}
	s.history.RecordAction(ctx, history.ActionFaceAuthenticated, user.ID, fmt.Sprintf("distance=%.4f", res.Distance))
	return &AuthResult{Token: token, User: *user, Distance: res.Distance}, nil
}

// vanished turns a matched user deleted mid-login into an authentication failure.
func vanished(id int64, err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("user %d vanished: %w", id, apperr.ErrUnauthorized)
	}
	return err
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id int64) (*database.User, error) {
	u, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.history.RecordAction(ctx, history.ActionUserViewed, 0, fmt.Sprintf("usuario_id=%d", id))
	return u, nil
}

// List returns all users, optionally filtered by a case and accent
// insensitive search over name, surname and email.
func (s *Service) List(ctx context.Context, query string) ([]database.User, error) {
	var all []database.User
	err := s.read(ctx, "listing users", func(ctx context.Context) error {
		var err error
		all, err = s.store.ListUsers(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.history.RecordAction(ctx, history.ActionUsersListed, 0, query)

	q := foldForSearch(query)
	if q == "" {
		return all, nil
	}
	out := make([]database.User, 0, len(all))
	for _, u := range all {
		if strings.Contains(foldForSearch(u.Name+" "+u.Surname+" "+u.Email), q) {
			out = append(out, u)
		}
	}
	return out, nil
}

// Update changes a user. A new image must not match any other user.
// An empty input returns the user unchanged.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*database.User, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	current, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.empty() {
		return current, nil
	}

	patch := database.UserPatch{Name: in.Name, Surname: in.Surname, Email: in.Email}

	if len(in.Image) == 0 {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()
		if err := s.store.UpdateUser(sctx, id, patch); err != nil {
			return nil, storeErr(fmt.Sprintf("updating user %d", id), err)
		}
		s.history.RecordAction(ctx, history.ActionUserUpdated, id, "")
		return s.reload(ctx, current), nil
	}

	info, emb, err := s.extract(ctx, in.Image)
	if err != nil {
		return nil, err
	}
	_, err = s.registry.Admit(ctx, emb, id, func(ctx context.Context) (int64, error) {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()

		path, err := s.blobs.Save(sctx, in.Image, info)
		if err != nil {
			return 0, storeErr("saving image", err)
		}
		patch.ImagePath = &path
		patch.Embedding = emb

		if err := s.store.UpdateUser(sctx, id, patch); err != nil {
			s.deleteBlob(ctx, path)
			return 0, storeErr(fmt.Sprintf("updating user %d", id), err)
		}
		return id, nil
	})
	if err != nil {
		return nil, err
	}

	if current.ImagePath != "" && current.ImagePath != *patch.ImagePath {
		s.deleteBlob(ctx, current.ImagePath)
	}
	s.log.Info("user face updated", "user_id", id)
	s.history.RecordAction(ctx, history.ActionUserUpdated, id, "imagen")
	return s.reload(ctx, current), nil
}

// Delete removes a user, their tokens and their image.
func (s *Service) Delete(ctx context.Context, id int64) error {
	current, err := s.getUser(ctx, id)
	if err != nil {
		return err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.DeleteUser(sctx, id); err != nil {
		return storeErr(fmt.Sprintf("deleting user %d", id), err)
	}

	// The row is gone before tokens are revoked; issue relies on this order.
	s.registry.Remove(id)
	revoked := s.tokens.RevokeAllForUser(id)
	s.deleteBlob(ctx, current.ImagePath)

	s.log.Info("user deleted", "user_id", id, "tokens_revoked", revoked)
	s.history.RecordAction(ctx, history.ActionUserDeleted, id, current.Email)
	return nil
}

// Image returns a stored image and its content type.
func (s *Service) Image(ctx context.Context, path string) ([]byte, string, error) {
	clean, err := blob.CleanPath(path)
	if err != nil {
		return nil, "", err
	}
	var (
		data        []byte
		contentType string
	)
	err = s.read(ctx, "loading image", func(ctx context.Context) error {
		var err error
		data, contentType, err = s.blobs.Load(ctx, clean)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	s.history.RecordAction(ctx, history.ActionImageViewed, 0, clean)
	return data, contentType, nil
}

// IssueTestToken issues a token without a face match. userID 0 issues an
// anonymous token; any other ID must belong to an existing user.
func (s *Service) IssueTestToken(ctx context.Context, userID int64) (session.Token, error) {
	if userID < 0 {
		return session.Token{}, apperr.Invalid("usuario_id", "must not be negative")
	}
	if userID != session.AnonymousUserID {
		if _, err := s.getUser(ctx, userID); err != nil {
			return session.Token{}, err
		}
	}
	token, err := s.issue(ctx, userID)
	if err != nil {
		return session.Token{}, err
	}
	s.history.RecordAction(ctx, history.ActionTokenGenerated, userID, "")
	return token, nil
}

// ValidateToken returns the user a token belongs to.
func (s *Service) ValidateToken(ctx context.Context, value string) (int64, error) {
	userID, err := s.tokens.Validate(value)
	if err != nil {
		return 0, err
	}
	s.history.RecordAction(ctx, history.ActionTokenValidated, userID, "")
	return userID, nil
}

// RevokeToken invalidates a token. Unknown tokens are ignored.
func (s *Service) RevokeToken(ctx context.Context, value string) {
	userID, err := s.tokens.Validate(value)
	s.tokens.Revoke(value)
	if err == nil {
		s.history.RecordAction(ctx, history.ActionTokenRevoked, userID, "")
	}
}
