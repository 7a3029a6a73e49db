package content

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/threadscope/internal/database"
	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/repository"
)

// newSQLiteStore はマイグレーション済みSQLiteに対するStoreServiceとプラットフォームIDを返す。
func newSQLiteStore(t *testing.T) (*StoreService, *repository.SQLContentRepo, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	if err := database.RunMigrations(database.DriverSQLite, path); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, err := database.Open(database.DriverSQLite, path)
	if err != nil {
		t.Fatalf("SQLiteのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	platform := &model.Platform{
		ID: uuid.New().String(), Name: "forum", Website: "https://forum.example.com",
		Type: model.PlatformTypeForum, CreatedAt: now, UpdatedAt: now,
	}
	if err := repository.NewSQLPlatformRepo(db, repository.DialectSQLite).Create(context.Background(), platform); err != nil {
		t.Fatalf("プラットフォーム作成に失敗: %v", err)
	}

	contents := repository.NewSQLContentRepo(db, repository.DialectSQLite)
	analyses := repository.NewSQLAnalysisRepo(db, repository.DialectSQLite)
	return NewStoreService(contents, analyses, testLogger()), contents, platform.ID
}

func TestSQLite_UpsertTwiceKeepsOneRow(t *testing.T) {
	svc, repo, platformID := newSQLiteStore(t)
	ctx := context.Background()

	a, _, err := svc.Upsert(ctx, platformID, normalized("1", "", model.ContentTypePost))
	if err != nil {
		t.Fatalf("1回目のUpsertに失敗: %v", err)
	}
	b, created, err := svc.Upsert(ctx, platformID, normalized("1", "", model.ContentTypePost))
	if err != nil {
		t.Fatalf("2回目のUpsertに失敗: %v", err)
	}
	if created || a.ID != b.ID {
		t.Errorf("同一キーは同じ内部IDを返すべきです: %s, %s (created=%v)", a.ID, b.ID, created)
	}

	list, err := repo.ListUnanalyzed(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnanalyzed failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("行数 = %d, want 1", len(list))
	}
}

// 返信が親より先に届いた場合、親が後から保存されても紐付けは修復されない。
func TestSQLite_ParentLinkIsResolvedOnlyOnce(t *testing.T) {
	svc, repo, platformID := newSQLiteStore(t)
	ctx := context.Background()

	reply, _, err := svc.Upsert(ctx, platformID, normalized("21", "20", model.ContentTypeReply))
	if err != nil {
		t.Fatalf("返信のUpsertに失敗: %v", err)
	}
	if reply.ParentID != nil {
		t.Fatalf("親が未保存の返信はparent_idがnullであるべきです")
	}

	post, _, err := svc.Upsert(ctx, platformID, normalized("20", "", model.ContentTypePost))
	if err != nil {
		t.Fatalf("投稿のUpsertに失敗: %v", err)
	}

	again, _, err := svc.Upsert(ctx, platformID, normalized("21", "20", model.ContentTypeReply))
	if err != nil {
		t.Fatalf("返信の再Upsertに失敗: %v", err)
	}
	if again.ParentID != nil {
		t.Errorf("再取得でも紐付けは修復されません: %v", *again.ParentID)
	}

	stored, err := repo.FindByID(ctx, post.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if stored.RepliesCount != 0 {
		t.Errorf("RepliesCount = %d, want 0", stored.RepliesCount)
	}
}

func TestSQLite_AttachAnalysisMarksAnalyzed(t *testing.T) {
	svc, repo, platformID := newSQLiteStore(t)
	ctx := context.Background()

	stored, _, err := svc.Upsert(ctx, platformID, normalized("1", "", model.ContentTypePost))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	_, err = svc.AttachAnalysis(ctx, stored.ID, model.AnalysisRecord{
		Sentiment:       model.SentimentPositive,
		Keywords:        model.EncodeStringList([]string{"咖啡"}),
		Summary:         "要約",
		ImportanceScore: 70,
		Language:        "zh",
	})
	if err != nil {
		t.Fatalf("AttachAnalysis failed: %v", err)
	}

	got, err := repo.FindByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if !got.Analyzed {
		t.Error("analyzed が true になっていません")
	}

	pending, err := svc.ListUnanalyzed(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnanalyzed failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("分析済みは未分析一覧に含まれません: %d", len(pending))
	}
}
