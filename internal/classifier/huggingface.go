package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mentiond/internal/model"
)

// maxResponseSize は推論APIレスポンスの最大読み取りサイズ。
const maxResponseSize = 1 << 20 // 1MB

// HuggingFaceClassifier はHuggingFace推論APIを呼び出す分類器。
// distilbert-sst-2系のテキスト分類エンドポイントを想定している。
type HuggingFaceClassifier struct {
	httpClient *http.Client
	logger     *slog.Logger
	modelURL   string // テスト用にエンドポイントを差し替え可能
	token      string
}

// NewHuggingFaceClassifier はHuggingFaceClassifierを生成する。
// httpClientにはタイムアウトを設定したクライアントを渡すこと。
func NewHuggingFaceClassifier(httpClient *http.Client, logger *slog.Logger, modelURL, token string) *HuggingFaceClassifier {
	return &HuggingFaceClassifier{
		httpClient: httpClient,
		logger:     logger,
		modelURL:   modelURL,
		token:      token,
	}
}

// inferenceRequest は推論APIのリクエストボディ。
type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// labelScore は推論APIが返すラベルとスコアの組。
type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify はテキストをHuggingFace推論APIで分類する。
// タイムアウト・429・5xxはErrClassifierTransient、
// その他の非2xxおよび解析不能な応答はErrClassifierTerminalに分類される。
func (c *HuggingFaceClassifier) Classify(ctx context.Context, text string) (model.Sentiment, error) {
	body, err := json.Marshal(inferenceRequest{Inputs: TruncateInput(text)})
	if err != nil {
		return model.Sentiment{}, fmt.Errorf("%w: リクエストのエンコードに失敗しました: %v", model.ErrClassifierTerminal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(body))
	if err != nil {
		return model.Sentiment{}, fmt.Errorf("%w: リクエストの作成に失敗しました: %v", model.ErrClassifierTerminal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// ネットワークエラーとタイムアウトは再試行で回復しうる
		return model.Sentiment{}, fmt.Errorf("%w: 推論APIの呼び出しに失敗しました: %v", model.ErrClassifierTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return model.Sentiment{}, fmt.Errorf("%w: 推論APIがステータス %d を返しました", model.ErrClassifierTransient, resp.StatusCode)
		}
		return model.Sentiment{}, fmt.Errorf("%w: 推論APIがステータス %d を返しました", model.ErrClassifierTerminal, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return model.Sentiment{}, fmt.Errorf("%w: レスポンスの読み取りに失敗しました: %v", model.ErrClassifierTransient, err)
	}

	sentiment, err := parseInferenceResponse(data)
	if err != nil {
		c.logger.Warn("推論APIのレスポンスを解析できませんでした",
			slog.String("error", err.Error()),
		)
		return model.Sentiment{}, fmt.Errorf("%w: %v", model.ErrClassifierTerminal, err)
	}

	return sentiment, nil
}

// parseInferenceResponse は推論APIのレスポンスを解析し、最高スコアのラベルを返す。
// モデルにより [[{label, score}...]] と [{label, score}...] の両形式がある。
func parseInferenceResponse(data []byte) (model.Sentiment, error) {
	var nested [][]labelScore
	if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
		return pickTopLabel(nested[0])
	}

	var flat []labelScore
	if err := json.Unmarshal(data, &flat); err == nil {
		return pickTopLabel(flat)
	}

	return model.Sentiment{}, errors.New("未知のレスポンス形式です")
}

// pickTopLabel はスコア最大のラベルを正規化して返す。
func pickTopLabel(scores []labelScore) (model.Sentiment, error) {
	if len(scores) == 0 {
		return model.Sentiment{}, errors.New("分類結果が空です")
	}

	top := scores[0]
	for _, s := range scores[1:] {
		if s.Score > top.Score {
			top = s
		}
	}

	label := normalizeLabel(top.Label)
	if label == "" {
		return model.Sentiment{}, fmt.Errorf("未知のラベルです: %q", top.Label)
	}

	return model.Sentiment{Label: label, Score: top.Score}, nil
}

// compile-time interface check
var _ Classifier = (*HuggingFaceClassifier)(nil)
