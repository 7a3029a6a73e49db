// Package model はドメインモデルを定義する。
package model

import "time"

// PlatformType はコンテンツ取得元の種別を表す。
type PlatformType string

const (
	// PlatformTypeForum は汎用フォーラム（HTML）。
	PlatformTypeForum PlatformType = "forum"
	// PlatformTypeFeed はRSS/Atomフィードを公開するフォーラム。
	PlatformTypeFeed PlatformType = "feed"
	// PlatformTypeXiaohongshu は小紅書のノートAPI。
	PlatformTypeXiaohongshu PlatformType = "xiaohongshu"
)

// Valid は既知の種別かどうかを返す。
func (t PlatformType) Valid() bool {
	switch t {
	case PlatformTypeForum, PlatformTypeFeed, PlatformTypeXiaohongshu:
		return true
	}
	return false
}

// Platform はコンテンツの取得元サイトを表す。
type Platform struct {
	ID        string
	Name      string
	Website   string
	Type      PlatformType
	CreatedAt time.Time
	UpdatedAt time.Time
}
