package source

// Definition はプラットフォームごとの取得設定。未設定の項目は各Sourceの既定値を使う。
type Definition struct {
	// ListURL と PostURL は {website}、{page}、{id} を置換するテンプレート。
	ListURL   string         `mapstructure:"list_url"`
	PostURL   string         `mapstructure:"post_url"`
	Selectors ForumSelectors `mapstructure:"selectors"`

	// Headers はセッションの既定ヘッダーに追加する値（Referer、User-Agentなど）。
	Headers map[string]string `mapstructure:"headers"`

	SearchEndpoint   string `mapstructure:"search_endpoint"`
	CommentsEndpoint string `mapstructure:"comments_endpoint"`
	Keyword          string `mapstructure:"keyword"`
}

// ForumSelectors は汎用フォーラムのCSSセレクタ。
type ForumSelectors struct {
	PostItem     string `mapstructure:"post_item"`
	PostLink     string `mapstructure:"post_link"`
	PostTitle    string `mapstructure:"post_title"`
	PostAuthor   string `mapstructure:"post_author"`
	PostTime     string `mapstructure:"post_time"`
	PostContent  string `mapstructure:"post_content"`
	ReplyItem    string `mapstructure:"reply_item"`
	ReplyContent string `mapstructure:"reply_content"`
	ReplyAuthor  string `mapstructure:"reply_author"`
	ReplyTime    string `mapstructure:"reply_time"`
}

// DefaultForumSelectors は汎用フォーラムの既定セレクタ。
var DefaultForumSelectors = ForumSelectors{
	PostItem:     ".post-item",
	PostLink:     "a.post-link",
	PostTitle:    ".post-title",
	PostAuthor:   ".post-author",
	PostTime:     ".post-time",
	PostContent:  ".post-content",
	ReplyItem:    ".reply-item",
	ReplyContent: ".reply-content",
	ReplyAuthor:  ".reply-author",
	ReplyTime:    ".reply-time",
}

// withDefaults は空の項目を既定値で埋める。
func (s ForumSelectors) withDefaults() ForumSelectors {
	d := DefaultForumSelectors
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return ForumSelectors{
		PostItem:     pick(s.PostItem, d.PostItem),
		PostLink:     pick(s.PostLink, d.PostLink),
		PostTitle:    pick(s.PostTitle, d.PostTitle),
		PostAuthor:   pick(s.PostAuthor, d.PostAuthor),
		PostTime:     pick(s.PostTime, d.PostTime),
		PostContent:  pick(s.PostContent, d.PostContent),
		ReplyItem:    pick(s.ReplyItem, d.ReplyItem),
		ReplyContent: pick(s.ReplyContent, d.ReplyContent),
		ReplyAuthor:  pick(s.ReplyAuthor, d.ReplyAuthor),
		ReplyTime:    pick(s.ReplyTime, d.ReplyTime),
	}
}
