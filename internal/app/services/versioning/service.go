package versioning

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/version"
	"github.com/veritrace/platform/internal/app/storage"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

// Service simulates data version control. Commits record that a path
// was published at a point in time; no object storage is involved.
type Service struct {
	store storage.CommitStore
	cfg   config.VersioningConfig
	log   *logger.Logger
}

// New constructs a versioning service.
func New(store storage.CommitStore, cfg config.VersioningConfig, log *logger.Logger) *Service {
	def := config.Default().Versioning
	if strings.TrimSpace(cfg.Repository) == "" {
		cfg.Repository = def.Repository
	}
	if strings.TrimSpace(cfg.DefaultBranch) == "" {
		cfg.DefaultBranch = def.DefaultBranch
	}
	if log == nil {
		log = logger.NewDefault("versioning")
	}
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log,
	}
}

// Commit records a new version of the data at path. The path must exist
// on disk. An empty branch falls back to the configured default. The
// commit ID is the first 12 hex digits of a sha1 over the path, the
// message and the commit timestamp.
func (s *Service) Commit(ctx context.Context, path, branch, message string, metadata map[string]string) (version.Commit, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return version.Commit{}, domain.NewError(domain.KindVersioning, "data path is required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return version.Commit{}, domain.NewError(domain.KindVersioning, "commit message is required")
	}
	if branch = strings.TrimSpace(branch); branch == "" {
		branch = s.cfg.DefaultBranch
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return version.Commit{}, domain.NotFoundError(domain.KindVersioning, fmt.Sprintf("data path does not exist: %s", path))
		}
		return version.Commit{}, domain.WrapError(domain.KindVersioning, "inspect data path", err)
	}

	ts := time.Now().UTC().Truncate(time.Microsecond)
	c := version.Commit{
		ID:          commitID(path, message, ts),
		Repository:  s.cfg.Repository,
		Branch:      branch,
		Path:        path,
		Message:     message,
		Metadata:    metadata,
		CommittedAt: ts,
	}

	stored, err := s.store.CreateCommit(ctx, c)
	if err != nil {
		return version.Commit{}, fmt.Errorf("store commit: %w", err)
	}

	s.log.WithField("commit_id", stored.ID).
		WithField("branch", stored.Branch).
		WithField("path", stored.Path).
		Info("data commit recorded")
	return stored, nil
}

// Log lists commits newest first. branch narrows the list and limit
// caps it when positive.
func (s *Service) Log(ctx context.Context, branch string, limit int) ([]version.Commit, error) {
	return s.store.ListCommits(ctx, strings.TrimSpace(branch), limit)
}

// GetCommit returns one commit by ID.
func (s *Service) GetCommit(ctx context.Context, id string) (version.Commit, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return version.Commit{}, domain.NewError(domain.KindVersioning, "commit id is required")
	}
	return s.store.GetCommit(ctx, id)
}

// Branches lists the branches seen so far with their commit counts and
// head commits.
func (s *Service) Branches(ctx context.Context) ([]version.Branch, error) {
	return s.store.ListBranches(ctx)
}

func commitID(path, message string, ts time.Time) string {
	sum := sha1.Sum([]byte(path + "|" + message + "|" + ts.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:12]
}
