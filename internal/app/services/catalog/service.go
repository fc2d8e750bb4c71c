package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/domain/dataset"
	"github.com/veritrace/platform/internal/app/storage"
	"github.com/veritrace/platform/pkg/logger"
)

// Service maintains the dataset catalog, a registry of every output the
// platform has produced or been told about, keyed by path.
type Service struct {
	store storage.DatasetStore
	log   *logger.Logger
}

// New constructs a catalog service.
func New(store storage.DatasetStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{
		store: store,
		log:   log,
	}
}

// RegisterRequest carries a catalog update. Zero fields leave the
// stored entry untouched; metadata maps are merged with new keys
// winning.
type RegisterRequest struct {
	Path          string
	Name          string
	Description   string
	Tags          []string
	Source        string
	RowCount      int
	ColumnCount   int
	QualityPassed *bool
	LastCommitID  string
	PipelineRunID string
	Metadata      map[string]any
}

// Register creates or updates the catalog entry for a path.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (dataset.Dataset, error) {
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return dataset.Dataset{}, domain.NewError(domain.KindValidation, "dataset path is required")
	}

	entry, err := s.store.GetDatasetByPath(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		entry = dataset.Dataset{Path: path, Name: filepath.Base(path)}
	default:
		return dataset.Dataset{}, fmt.Errorf("read catalog entry: %w", err)
	}

	merge(&entry, req)

	stored, err := s.store.UpsertDataset(ctx, entry)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("store catalog entry: %w", err)
	}

	s.log.WithField("path", stored.Path).
		WithField("dataset_id", stored.ID).
		Info("dataset registered")
	return stored, nil
}

// Get returns a catalog entry by ID.
func (s *Service) Get(ctx context.Context, id string) (dataset.Dataset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return dataset.Dataset{}, domain.NewError(domain.KindValidation, "dataset id is required")
	}
	return s.store.GetDataset(ctx, id)
}

// Update applies the non-zero fields of req to an existing entry. The
// entry keeps its path.
func (s *Service) Update(ctx context.Context, id string, req RegisterRequest) (dataset.Dataset, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return dataset.Dataset{}, err
	}

	merge(&entry, req)

	stored, err := s.store.UpsertDataset(ctx, entry)
	if err != nil {
		return dataset.Dataset{}, fmt.Errorf("store catalog entry: %w", err)
	}
	s.log.WithField("dataset_id", stored.ID).Info("dataset updated")
	return stored, nil
}

// GetByPath returns a catalog entry by dataset path.
func (s *Service) GetByPath(ctx context.Context, path string) (dataset.Dataset, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return dataset.Dataset{}, domain.NewError(domain.KindValidation, "dataset path is required")
	}
	return s.store.GetDatasetByPath(ctx, path)
}

// List returns catalog entries, most recently updated first.
func (s *Service) List(ctx context.Context, filter dataset.Filter) ([]dataset.Dataset, error) {
	filter.Tag = strings.TrimSpace(filter.Tag)
	return s.store.ListDatasets(ctx, filter)
}

// Delete removes a catalog entry by ID.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.NewError(domain.KindValidation, "dataset id is required")
	}
	if err := s.store.DeleteDataset(ctx, id); err != nil {
		return err
	}
	s.log.WithField("dataset_id", id).Info("dataset removed from catalog")
	return nil
}

// Search matches the query as a substring of dataset names, paths,
// descriptions and tags.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]dataset.Dataset, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewError(domain.KindValidation, "search query is required")
	}
	return s.store.SearchDatasets(ctx, query, limit)
}

func merge(entry *dataset.Dataset, req RegisterRequest) {
	if req.Name != "" {
		entry.Name = req.Name
	}
	if req.Description != "" {
		entry.Description = req.Description
	}
	if len(req.Tags) > 0 {
		entry.Tags = req.Tags
	}
	if req.Source != "" {
		entry.Source = req.Source
	}
	if req.RowCount > 0 {
		entry.RowCount = req.RowCount
	}
	if req.ColumnCount > 0 {
		entry.ColumnCount = req.ColumnCount
	}
	if req.QualityPassed != nil {
		entry.QualityPassed = req.QualityPassed
	}
	if req.LastCommitID != "" {
		entry.LastCommitID = req.LastCommitID
	}
	if req.PipelineRunID != "" {
		entry.PipelineRunID = req.PipelineRunID
	}
	if len(req.Metadata) > 0 {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]any, len(req.Metadata))
		}
		for k, v := range req.Metadata {
			entry.Metadata[k] = v
		}
	}
}
