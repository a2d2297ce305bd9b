package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-gate/internal/apperr"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/kozaktomas/face-gate/internal/facematch"
	"github.com/kozaktomas/face-gate/internal/history"
	"github.com/kozaktomas/face-gate/internal/registry"
)

// ReembedOutcome describes what Reembed did for one user.
type ReembedOutcome struct {
	UserID int64 `json:"usuario_id"`
	// Drift is the distance between the stored and the recomputed embedding,
	// or -1 when they cannot be compared.
	Drift float64 `json:"drift"`
	// ConflictID is the other user the new embedding matches. The stored
	// embedding is kept when it is set.
	ConflictID int64   `json:"conflicto_id,omitempty"`
	Conflict   float64 `json:"conflicto_distancia,omitempty"`
	Updated    bool    `json:"actualizado"`
}

// Reembed recomputes a user's embedding from the stored image. The new
// embedding goes through the same duplicate guard as an update. With dryRun
// the guard runs but nothing is written.
func (s *Service) Reembed(ctx context.Context, id int64, dryRun bool) (*ReembedOutcome, error) {
	u, err := s.getUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.ImagePath == "" {
		return nil, fmt.Errorf("user %d has no stored image: %w", id, apperr.ErrNotFound)
	}

	var image []byte
	err = s.read(ctx, fmt.Sprintf("loading image of user %d", id), func(ctx context.Context) error {
		var err error
		image, _, err = s.blobs.Load(ctx, u.ImagePath)
		return err
	})
	if err != nil {
		return nil, err
	}

	_, emb, err := s.extract(ctx, image)
	if err != nil {
		return nil, err
	}

	out := &ReembedOutcome{UserID: id, Drift: -1}
	if d, err := facematch.CosineDistance(u.Embedding, emb); err == nil {
		out.Drift = d
	}

	if dryRun {
		candidates, err := s.registry.All(ctx)
		if err != nil {
			return nil, err
		}
		res, err := s.registry.Matcher().Guard(emb, candidates, id)
		if err != nil {
			return nil, err
		}
		if res.Found {
			out.ConflictID, out.Conflict = res.UserID, res.Distance
		}
		return out, nil
	}

	_, err = s.registry.Admit(ctx, emb, id, func(ctx context.Context) (int64, error) {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()
		if err := s.store.UpdateUser(sctx, id, database.UserPatch{Embedding: emb}); err != nil {
			return 0, storeErr(fmt.Sprintf("updating embedding of user %d", id), err)
		}
		return id, nil
	})
	var dup *registry.DuplicateError
	if errors.As(err, &dup) {
		out.ConflictID, out.Conflict = dup.ExistingID, dup.Distance
		s.log.Warn("recomputed embedding collides with another user",
			"user_id", id, "other_user_id", dup.ExistingID, "distance", dup.Distance)
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	out.Updated = true
	s.history.RecordAction(ctx, history.ActionUserUpdated, id, "reembed")
	return out, nil
}

// CheckUniqueness returns every pair of registered users whose faces match
// each other. threshold > 0 overrides the configured threshold.
func (s *Service) CheckUniqueness(ctx context.Context, threshold float64) ([]facematch.Violation, error) {
	matcher := s.registry.Matcher()
	if threshold > 0 {
		var err error
		if matcher, err = facematch.NewMatcher(threshold); err != nil {
			return nil, err
		}
	}
	candidates, err := s.registry.All(ctx)
	if err != nil {
		return nil, err
	}
	return matcher.FindViolations(candidates)
}
