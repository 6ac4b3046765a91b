package classifier

import (
	"context"

	"github.com/hitoshi/mentiond/internal/model"
)

// StaticClassifier は常にNEUTRAL/0.5を返す固定分類器。
// 推論APIのトークンやエンドポイントが未設定でもパイプラインを動かすためのフォールバック。
type StaticClassifier struct{}

// NewStaticClassifier はStaticClassifierを生成する。
func NewStaticClassifier() *StaticClassifier {
	return &StaticClassifier{}
}

// Classify は入力によらずNEUTRAL/0.5を返す。
func (c *StaticClassifier) Classify(ctx context.Context, text string) (model.Sentiment, error) {
	return model.Sentiment{Label: model.SentimentNeutral, Score: 0.5}, nil
}

// compile-time interface check
var _ Classifier = (*StaticClassifier)(nil)
