package mention

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/hitoshi/mentiond/internal/model"
	"github.com/hitoshi/mentiond/internal/repository"
)

const (
	// maxKeywordLength はキーワードの最大文字数。
	maxKeywordLength = 100
	// defaultPageSize は一覧取得のデフォルト件数。
	defaultPageSize = 50
	// maxPageSize は一覧取得の最大件数。
	maxPageSize = 100
)

// Service はメンション照会のサービス層。
// ダッシュボードUIが消費する読み取り専用の問い合わせ面を提供する。
type Service struct {
	repo repository.MentionRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.MentionRepository) *Service {
	return &Service{repo: repo}
}

// ListByKeyword はキーワードのメンション一覧と総数をpublished_at降順で返す。
// 未エンリッチの行も感情フィールドが空のまま含まれる。
func (s *Service) ListByKeyword(ctx context.Context, keyword string, limit, offset int) ([]*model.Mention, int, error) {
	if err := ValidateKeyword(keyword); err != nil {
		return nil, 0, err
	}
	limit, offset, err := normalizePagination(limit, offset)
	if err != nil {
		return nil, 0, err
	}

	mentions, err := s.repo.ListByKeyword(ctx, keyword, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("メンション一覧の取得に失敗しました: %w", err)
	}

	count, err := s.repo.CountByKeyword(ctx, keyword)
	if err != nil {
		return nil, 0, fmt.Errorf("メンション数の取得に失敗しました: %w", err)
	}

	return mentions, count, nil
}

// ListLeads はリードとしてマークされたメンション一覧をpublished_at降順で返す。
func (s *Service) ListLeads(ctx context.Context, limit, offset int) ([]*model.Mention, error) {
	limit, offset, err := normalizePagination(limit, offset)
	if err != nil {
		return nil, err
	}

	mentions, err := s.repo.ListLeads(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("リード一覧の取得に失敗しました: %w", err)
	}

	return mentions, nil
}

// ValidateKeyword はキーワードが1〜100文字であることを検証する。
func ValidateKeyword(keyword string) error {
	if keyword == "" {
		return model.NewInvalidKeywordError("キーワードが空です")
	}
	if utf8.RuneCountInString(keyword) > maxKeywordLength {
		return model.NewInvalidKeywordError(fmt.Sprintf("キーワードが長すぎます（最大%d文字）", maxKeywordLength))
	}
	return nil
}

// normalizePagination はlimit/offsetを検証し、デフォルト値を補完する。
// limit=0はデフォルト値、負数および上限超過はエラー。
func normalizePagination(limit, offset int) (int, int, error) {
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit < 0 || limit > maxPageSize {
		return 0, 0, model.NewInvalidPaginationError(fmt.Sprintf("limitは1〜%dで指定してください", maxPageSize))
	}
	if offset < 0 {
		return 0, 0, model.NewInvalidPaginationError("offsetは0以上で指定してください")
	}
	return limit, offset, nil
}
