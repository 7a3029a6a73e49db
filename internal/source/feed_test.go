package source

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/threadscope/internal/model"
)

func rssDoc(items string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Forum</title><link>https://forum.example</link>` + items + `</channel></rss>`
}

func TestFeedSource_ListItemAndReplies(t *testing.T) {
	var base string
	routes := map[string]string{}
	ts := newServer(t, routes)
	base = ts.URL

	routes["/latest.rss"] = rssDoc(`
<item><title>Topic A</title><link>` + base + `/t/a/1</link><guid>topic-1</guid>
<description>&lt;p&gt;Body A&lt;/p&gt;&lt;script&gt;x()&lt;/script&gt;</description>
<author>alice@example.com (alice)</author><pubDate>Mon, 04 Mar 2024 10:00:00 +0000</pubDate></item>
<item><title>No id</title></item>`)
	routes["/t/a/1.rss"] = rssDoc(`
<item><title>Topic A</title><link>` + base + `/t/a/1</link><guid>topic-1</guid><description>Body A</description></item>
<item><title>Re: Topic A</title><link>` + base + `/t/a/1/2</link><guid>post-2</guid><description>First reply</description></item>
<item><title>Re: Topic A</title><link>` + base + `/t/a/1/3</link><guid>post-3</guid><description>Second reply</description></item>`)

	src := newSource(t, model.PlatformTypeFeed, base+"/latest.rss", Definition{})
	ctx := context.Background()

	posts, err := src.FetchPage(ctx, 1)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("投稿数 = %d, want 1", len(posts))
	}
	p := posts[0]
	if p.ContentID != "topic-1" || p.Title != "Topic A" || p.URL != base+"/t/a/1" {
		t.Errorf("投稿 = %+v", p)
	}
	if contains(p.Content, "script") || !contains(p.Content, "Body A") {
		t.Errorf("本文はサニタイズされるべきです: %q", p.Content)
	}
	if p.CreatedTime == nil || p.CreatedTime.Day() != 4 {
		t.Errorf("CreatedTime = %v", p.CreatedTime)
	}

	item, err := src.FetchItem(ctx, "topic-1")
	if err != nil {
		t.Fatalf("FetchItem failed: %v", err)
	}
	if item.Title != "Topic A" {
		t.Errorf("FetchItem = %+v", item)
	}

	replies, err := src.FetchReplies(ctx, "topic-1", 1)
	if err != nil {
		t.Fatalf("FetchReplies failed: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("返信数 = %d, want 2（先頭の記事は投稿自身）", len(replies))
	}
	for _, r := range replies {
		if r.ParentID != "topic-1" || r.ContentType != model.ContentTypeReply {
			t.Errorf("返信 = %+v", r)
		}
	}
	if replies[0].ContentID != "post-2" {
		t.Errorf("1件目の返信 = %q", replies[0].ContentID)
	}
}

func TestFeedSource_DecodesEntities(t *testing.T) {
	ts := newServer(t, map[string]string{"/feed": rssDoc(`
<item><title>Q&amp;A</title><link>https://forum.example/t/9</link><guid>topic-9</guid>
<description>&lt;p&gt;Tom's &amp;quot;A&amp;amp;B&amp;quot; 5 &amp;lt; 6&lt;/p&gt;</description></item>`)})
	src := newSource(t, model.PlatformTypeFeed, ts.URL+"/feed", Definition{})

	posts, err := src.FetchPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("投稿数 = %d, want 1", len(posts))
	}
	if want := `Tom's "A&B" 5 < 6`; posts[0].Content != want {
		t.Errorf("文字参照はデコードされるべきです: %q, want %q", posts[0].Content, want)
	}
}

func TestFeedSource_FetchItemUnknown(t *testing.T) {
	ts := newServer(t, map[string]string{"/feed": rssDoc("")})
	src := newSource(t, model.PlatformTypeFeed, ts.URL+"/feed", Definition{})

	_, err := src.FetchItem(context.Background(), "missing")
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("ErrItemNotFoundであるべきです: %v", err)
	}
}

func TestFeedSource_RepliesForUnlistedPost(t *testing.T) {
	ts := newServer(t, map[string]string{})
	src := newSource(t, model.PlatformTypeFeed, ts.URL+"/feed", Definition{})

	replies, err := src.FetchReplies(context.Background(), "never-listed", 1)
	if err != nil || len(replies) != 0 {
		t.Errorf("一覧にない投稿の返信は空であるべきです: %v, %v", replies, err)
	}
}

func TestFeedSource_InvalidFeed(t *testing.T) {
	ts := newServer(t, map[string]string{"/feed": "not a feed"})
	src := newSource(t, model.PlatformTypeFeed, ts.URL+"/feed", Definition{})

	if _, err := src.FetchPage(context.Background(), 1); err == nil {
		t.Error("解析できないフィードはエラーになるべきです")
	}
}

func TestWithPage(t *testing.T) {
	tests := []struct {
		url  string
		page int
		want string
	}{
		{"https://a.com/latest.rss", 1, "https://a.com/latest.rss"},
		{"https://a.com/latest.rss", 2, "https://a.com/latest.rss?page=2"},
		{"https://a.com/feed?x=1", 3, "https://a.com/feed?x=1&page=3"},
	}
	for _, tt := range tests {
		if got := withPage(tt.url, tt.page); got != tt.want {
			t.Errorf("withPage(%q, %d) = %q, want %q", tt.url, tt.page, got, tt.want)
		}
	}
}
