package handler

import (
	"context"

	"github.com/rovify/rovify/internal/session"
)

// requestNavigator はリクエスト単位のNavigator。
// Controllerが要求した遷移先を記録し、ハンドラーがレスポンス（リダイレクト等）に変換する。
type requestNavigator struct {
	current string
	target  string
}

func (n *requestNavigator) Navigate(path string) {
	n.target = path
}

func (n *requestNavigator) CurrentPath() string {
	return n.current
}

// withRequestNavigator はリクエスト単位のNavigatorをコンテキストに設定する。
func withRequestNavigator(ctx context.Context, currentPath string) (context.Context, *requestNavigator) {
	nav := &requestNavigator{current: currentPath}
	return session.WithNavigator(ctx, nav), nav
}
