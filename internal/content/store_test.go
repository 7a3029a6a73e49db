package content

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/threadscope/internal/model"
)

// mockContentRepo はテスト用のContentRepositoryモック。
type mockContentRepo struct {
	byKey     map[string]*model.StoredContent
	findErr   error
	createErr error
	created   []*model.StoredContent
}

func newMockContentRepo() *mockContentRepo {
	return &mockContentRepo{byKey: make(map[string]*model.StoredContent)}
}

func key(platformID, contentID string) string { return platformID + "/" + contentID }

func (m *mockContentRepo) FindByNaturalKey(_ context.Context, platformID, contentID string) (*model.StoredContent, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byKey[key(platformID, contentID)], nil
}

func (m *mockContentRepo) FindByID(_ context.Context, id string) (*model.StoredContent, error) {
	for _, c := range m.byKey {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (m *mockContentRepo) Create(_ context.Context, c *model.StoredContent) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.byKey[key(c.PlatformID, c.ContentID)] = c
	m.created = append(m.created, c)
	return nil
}

func (m *mockContentRepo) ListUnanalyzed(_ context.Context, limit int) ([]*model.StoredContent, error) {
	var out []*model.StoredContent
	for _, c := range m.created {
		if !c.Analyzed && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

// mockAnalysisRepo はテスト用のAnalysisRepositoryモック。
type mockAnalysisRepo struct {
	saved []*model.AnalysisRecord
	err   error
}

func (m *mockAnalysisRepo) FindByContentID(_ context.Context, contentID string) (*model.AnalysisRecord, error) {
	for _, a := range m.saved {
		if a.ContentID == contentID {
			return a, nil
		}
	}
	return nil, nil
}

func (m *mockAnalysisRepo) CreateAndMarkAnalyzed(_ context.Context, a *model.AnalysisRecord) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, a)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func normalized(contentID, parentID string, ct model.ContentType) model.NormalizedRecord {
	return model.NormalizedRecord{
		RawRecord: model.RawRecord{
			ContentID:   contentID,
			ParentID:    parentID,
			URL:         "https://forum.example.com/forum/post/" + contentID,
			Content:     "本文 " + contentID,
			ContentType: ct,
		},
		Processed: true,
	}
}

func TestUpsert_CreatesNewContent(t *testing.T) {
	repo := newMockContentRepo()
	svc := NewStoreService(repo, &mockAnalysisRepo{}, testLogger())

	stored, created, err := svc.Upsert(context.Background(), "p1", normalized("1", "", model.ContentTypePost))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("新規作成時は created=true であるべきです")
	}
	if stored.ID == "" || stored.PlatformID != "p1" || stored.ContentID != "1" {
		t.Errorf("stored = %+v", stored)
	}
	if !stored.Processed || stored.Analyzed {
		t.Errorf("flags = processed:%v analyzed:%v", stored.Processed, stored.Analyzed)
	}
	if stored.ScrapedAt.IsZero() {
		t.Error("ScrapedAt が設定されていません")
	}
}

func TestUpsert_FirstWriteWins(t *testing.T) {
	repo := newMockContentRepo()
	svc := NewStoreService(repo, &mockAnalysisRepo{}, testLogger())
	ctx := context.Background()

	first, _, err := svc.Upsert(ctx, "p1", normalized("1", "", model.ContentTypePost))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changed := normalized("1", "", model.ContentTypePost)
	changed.Content = "編集後の本文"
	second, created, err := svc.Upsert(ctx, "p1", changed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("2回目は created=false であるべきです")
	}
	if second.ID != first.ID {
		t.Errorf("内部IDが変わりました: %s -> %s", first.ID, second.ID)
	}
	if second.Content != "本文 1" {
		t.Errorf("既存行が更新されてはいけません: %q", second.Content)
	}
	if len(repo.created) != 1 {
		t.Errorf("作成回数 = %d, want 1", len(repo.created))
	}
}

func TestUpsert_LinksExistingParent(t *testing.T) {
	repo := newMockContentRepo()
	svc := NewStoreService(repo, &mockAnalysisRepo{}, testLogger())
	ctx := context.Background()

	post, _, _ := svc.Upsert(ctx, "p1", normalized("10", "", model.ContentTypePost))
	reply, _, err := svc.Upsert(ctx, "p1", normalized("11", "10", model.ContentTypeReply))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != post.ID {
		t.Errorf("ParentID = %v, want %s", reply.ParentID, post.ID)
	}
}

func TestUpsert_SamePlatformOnlyForParent(t *testing.T) {
	repo := newMockContentRepo()
	svc := NewStoreService(repo, &mockAnalysisRepo{}, testLogger())
	ctx := context.Background()

	svc.Upsert(ctx, "other", normalized("10", "", model.ContentTypePost))
	reply, _, err := svc.Upsert(ctx, "p1", normalized("11", "10", model.ContentTypeReply))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.ParentID != nil {
		t.Error("別プラットフォームの同一キーに紐付けてはいけません")
	}
}

func TestUpsert_InvalidRecord(t *testing.T) {
	svc := NewStoreService(newMockContentRepo(), &mockAnalysisRepo{}, testLogger())

	_, _, err := svc.Upsert(context.Background(), "p1", normalized("", "", model.ContentTypePost))
	if !errors.Is(err, model.ErrInvalidRecord) {
		t.Errorf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestUpsert_PersistenceError(t *testing.T) {
	repo := newMockContentRepo()
	repo.createErr = errors.New("disk I/O error")
	svc := NewStoreService(repo, &mockAnalysisRepo{}, testLogger())

	_, _, err := svc.Upsert(context.Background(), "p1", normalized("1", "", model.ContentTypePost))
	var pe *model.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if pe.PlatformID != "p1" || pe.ContentID != "1" {
		t.Errorf("PersistenceError = %+v", pe)
	}
}

func TestUpsert_LookupError(t *testing.T) {
	repo := newMockContentRepo()
	repo.findErr = errors.New("connection refused")
	svc := NewStoreService(repo, &mockAnalysisRepo{}, testLogger())

	_, _, err := svc.Upsert(context.Background(), "p1", normalized("1", "", model.ContentTypePost))
	var pe *model.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

func TestAttachAnalysis(t *testing.T) {
	analyses := &mockAnalysisRepo{}
	svc := NewStoreService(newMockContentRepo(), analyses, testLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	got, err := svc.AttachAnalysis(context.Background(), "c1", model.AnalysisRecord{
		Sentiment:       model.SentimentNeutral,
		ImportanceScore: 150,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID == "" || got.ContentID != "c1" {
		t.Errorf("got = %+v", got)
	}
	if got.ImportanceScore != 100 {
		t.Errorf("ImportanceScore = %d, want 100", got.ImportanceScore)
	}
	if got.Keywords != "[]" || got.Topics != "[]" {
		t.Errorf("空のキーワード/トピックは \"[]\" で保存されるべきです: %q %q", got.Keywords, got.Topics)
	}
	if !got.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if len(analyses.saved) != 1 {
		t.Errorf("saved = %d", len(analyses.saved))
	}
}

func TestAttachAnalysis_AlreadyAnalyzed(t *testing.T) {
	svc := NewStoreService(newMockContentRepo(), &mockAnalysisRepo{err: model.ErrAlreadyAnalyzed}, testLogger())

	_, err := svc.AttachAnalysis(context.Background(), "c1", model.AnalysisRecord{ImportanceScore: 50})
	if !errors.Is(err, model.ErrAlreadyAnalyzed) {
		t.Errorf("err = %v, want ErrAlreadyAnalyzed", err)
	}
}

func TestListUnanalyzed_NonPositiveLimit(t *testing.T) {
	svc := NewStoreService(newMockContentRepo(), &mockAnalysisRepo{}, testLogger())

	got, err := svc.ListUnanalyzed(context.Background(), 0)
	if err != nil || len(got) != 0 {
		t.Errorf("limit=0 は空を返すべきです: %v, %v", got, err)
	}
}
