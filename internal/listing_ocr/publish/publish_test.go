package publish

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"listing-ocr/internal/listing_ocr/model"
	"listing-ocr/internal/listing_ocr/store"
)

var testNow = time.Date(2025, 10, 12, 8, 0, 0, 0, time.UTC)

// writeStore 生成一份落盘文件
func writeStore(t *testing.T, path string, recs ...model.ListingRecord) {
	t.Helper()
	s := store.New(path, nil)
	for _, r := range recs {
		s.Apply(r)
	}
	if err := s.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}
}

func record(id string, status model.Status) model.ListingRecord {
	r := model.ListingRecord{
		ItemID:      id,
		SoldDate:    model.Str("Oct 11, 2025"),
		Title:       model.Str("Title " + id),
		SoldPrice:   model.Str("24.99"),
		SourceURL:   "https://cdn.example/" + id + ".png",
		ProcessedAt: testNow,
		Status:      status,
	}
	if status != model.StatusComplete {
		r.SoldPrice = nil
	}
	return r
}

func TestSQLitePublish(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "listings.json")
	writeStore(t, artifact, record("a", model.StatusComplete), record("b", model.StatusReprocess), record("c", model.StatusComplete))

	db, err := OpenSQLite(filepath.Join(dir, "listings.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Publish(ctx, artifact); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n, err := db.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
	b, ok, err := db.Get(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("Get(b) = %v, %v", ok, err)
	}
	if b.SoldPrice != nil || b.Status != model.StatusReprocess || !b.ProcessedAt.Equal(testNow) {
		t.Fatalf("unexpected row %+v", b)
	}

	// 第二次发布：b 补全，c 消失
	writeStore(t, artifact, record("a", model.StatusComplete), record("b", model.StatusComplete))
	if err := db.Publish(ctx, artifact); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}
	if n, _ := db.Count(ctx); n != 2 {
		t.Fatalf("expected stale row removed, count = %d", n)
	}
	b, _, _ = db.Get(ctx, "b")
	if model.Deref(b.SoldPrice) != "24.99" || b.Status != model.StatusComplete {
		t.Fatalf("row not updated: %+v", b)
	}
	if _, ok, _ := db.Get(ctx, "c"); ok {
		t.Fatalf("c should be gone")
	}
}

func TestSQLitePublishMissingArtifact(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "listings.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.Publish(context.Background(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReplaceModels(t *testing.T) {
	models := replaceModels([]model.ListingRecord{record("a", model.StatusComplete), record("b", model.StatusFail)})
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	m, ok := models[1].(*mongo.ReplaceOneModel)
	if !ok {
		t.Fatalf("unexpected model type %T", models[1])
	}
	if m.Upsert == nil || !*m.Upsert {
		t.Fatalf("replace must upsert")
	}
	filter, ok := m.Filter.(bson.D)
	if !ok || len(filter) != 1 || filter[0].Key != "_id" || filter[0].Value != "b" {
		t.Fatalf("unexpected filter %#v", m.Filter)
	}

	raw, err := bson.Marshal(m.Replacement)
	if err != nil {
		t.Fatal(err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["_id"] != "b" || doc["status"] != "Fail" {
		t.Fatalf("unexpected document %v", doc)
	}
}

func TestFTPDialError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	artifact := filepath.Join(t.TempDir(), "listings.json")
	writeStore(t, artifact, record("a", model.StatusComplete))

	f := &FTP{Addr: addr, RemotePath: "listings.json", Timeout: time.Second}
	if err := f.Publish(context.Background(), artifact); err == nil || !strings.Contains(err.Error(), "dial ftp") {
		t.Fatalf("expected dial error, got %v", err)
	}
}

func TestWithDefaultPort(t *testing.T) {
	if got := withDefaultPort("ftp.example.com", "21"); got != "ftp.example.com:21" {
		t.Fatalf("got %s", got)
	}
	if got := withDefaultPort("ftp.example.com:2121", "21"); got != "ftp.example.com:2121" {
		t.Fatalf("got %s", got)
	}
}

func ensureGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed in PATH")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func TestGitPublish(t *testing.T) {
	ensureGit(t)

	remote := t.TempDir()
	git(t, remote, "init", "--bare", "-q")
	repo := t.TempDir()
	git(t, repo, "init", "-q")
	git(t, repo, "remote", "add", "origin", remote)

	artifact := filepath.Join(repo, "data", "listings.json")
	writeStore(t, artifact, record("a", model.StatusComplete))

	g := &Git{Dir: repo, Remote: "origin", Message: "Update listings", AuthorName: "Listing Bot", AuthorEmail: "bot@example.com"}
	ctx := context.Background()
	if err := g.Publish(ctx, artifact); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n := git(t, repo, "rev-list", "--count", "HEAD"); n != "1" {
		t.Fatalf("expected one commit, got %s", n)
	}
	if msg := git(t, repo, "log", "-1", "--format=%s"); msg != "Update listings" {
		t.Fatalf("unexpected message %q", msg)
	}
	if heads := git(t, remote, "for-each-ref", "refs/heads"); heads == "" {
		t.Fatalf("nothing pushed to remote")
	}

	// 没有改动：成功且不产生新提交
	if err := g.Publish(ctx, artifact); err != nil {
		t.Fatalf("Publish() without changes error = %v", err)
	}
	if n := git(t, repo, "rev-list", "--count", "HEAD"); n != "1" {
		t.Fatalf("expected no new commit, got %s", n)
	}
}

func TestGitPublishCopiesOutsideArtifact(t *testing.T) {
	ensureGit(t)

	repo := t.TempDir()
	git(t, repo, "init", "-q")
	artifact := filepath.Join(t.TempDir(), "listings.json")
	writeStore(t, artifact, record("a", model.StatusComplete))

	g := &Git{Dir: repo, AuthorName: "Listing Bot", AuthorEmail: "bot@example.com"}
	if err := g.Publish(context.Background(), artifact); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo, "listings.json")); err != nil {
		t.Fatalf("artifact not copied: %v", err)
	}
	if files := git(t, repo, "ls-files"); files != "listings.json" {
		t.Fatalf("unexpected tracked files %q", files)
	}
}
