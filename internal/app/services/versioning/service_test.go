package versioning

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/veritrace/platform/internal/app/domain"
	"github.com/veritrace/platform/internal/app/storage/memory"
	"github.com/veritrace/platform/internal/config"
)

func dataFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := os.WriteFile(path, []byte("id\n1\n"), 0o644); err != nil {
		t.Fatalf("write data file: %v", err)
	}
	return path
}

func TestService_CommitLifecycle(t *testing.T) {
	store := memory.New()
	svc := New(store, config.VersioningConfig{}, nil)
	ctx := context.Background()
	path := dataFile(t)

	c, err := svc.Commit(ctx, path, "", "pipeline output from sales.csv", map[string]string{"rows": "10"})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(c.ID) != 12 {
		t.Fatalf("expected a 12 digit commit id, got %q", c.ID)
	}
	if c.Branch != "main" {
		t.Fatalf("expected the default branch, got %q", c.Branch)
	}
	if c.Repository != "veritrace-repo" {
		t.Fatalf("expected the default repository, got %q", c.Repository)
	}
	if c.CommittedAt.IsZero() {
		t.Fatal("expected the commit to be timestamped")
	}

	got, err := svc.GetCommit(ctx, c.ID)
	if err != nil {
		t.Fatalf("get commit: %v", err)
	}
	if got.Message != "pipeline output from sales.csv" || got.Metadata["rows"] != "10" {
		t.Fatalf("unexpected commit %+v", got)
	}
}

func TestService_CommitMissingPath(t *testing.T) {
	svc := New(memory.New(), config.VersioningConfig{}, nil)

	_, err := svc.Commit(context.Background(), filepath.Join(t.TempDir(), "absent.csv"), "", "update", nil)
	if err == nil {
		t.Fatal("expected missing path to be rejected")
	}
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found platform error, got %v", err)
	}
}

func TestService_CommitValidation(t *testing.T) {
	svc := New(memory.New(), config.VersioningConfig{}, nil)
	ctx := context.Background()

	if _, err := svc.Commit(ctx, "", "", "update", nil); err == nil {
		t.Fatal("expected empty path to be rejected")
	}
	if _, err := svc.Commit(ctx, dataFile(t), "", "  ", nil); err == nil {
		t.Fatal("expected empty message to be rejected")
	}
}

func TestService_LogAndBranches(t *testing.T) {
	svc := New(memory.New(), config.VersioningConfig{Repository: "sales-repo", DefaultBranch: "trunk"}, nil)
	ctx := context.Background()
	path := dataFile(t)

	if _, err := svc.Commit(ctx, path, "", "first", nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := svc.Commit(ctx, path, "staging", "second", nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	last, err := svc.Commit(ctx, path, "trunk", "third", nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	all, err := svc.Log(ctx, "", 0)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if len(all) != 3 || all[0].Message != "third" {
		t.Fatalf("expected newest first, got %#v", all)
	}

	trunk, err := svc.Log(ctx, "trunk", 0)
	if err != nil {
		t.Fatalf("log trunk: %v", err)
	}
	if len(trunk) != 2 {
		t.Fatalf("expected 2 trunk commits, got %d", len(trunk))
	}

	branches, err := svc.Branches(ctx)
	if err != nil {
		t.Fatalf("branches: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("expected 2 branches, got %#v", branches)
	}
	for _, b := range branches {
		if b.Name == "trunk" {
			if b.CommitCount != 2 || b.HeadCommit != last.ID {
				t.Fatalf("unexpected trunk branch %+v", b)
			}
		}
	}
}
