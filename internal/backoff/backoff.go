// Package backoff は指数バックオフ遅延の計算を提供する。
// 取り込みワーカーのプロバイダ再試行とエンリッチワーカーのストア再試行で共用する。
package backoff

import (
	"math/rand"
	"time"
)

const (
	// DefaultBase は指数バックオフの初回遅延（1秒）。
	DefaultBase = 1 * time.Second
	// DefaultCap は指数バックオフの最大遅延（60秒）。
	DefaultCap = 60 * time.Second
	// jitterFactor は遅延に加えるジッターの割合（±20%）。
	// 同時リトライの集中を避けるために揺らぎを与える。
	jitterFactor = 0.2
)

// Calculate は試行回数に基づいて指数バックオフ遅延を計算する。
// attempt=0でbase、以降2倍ずつ増加し、limitを超えない。
// 計算結果には±20%のジッターが加わる。
// baseが0以下の場合はDefaultBase、limitがbase未満の場合はDefaultCapを使用する。
func Calculate(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBase
	}
	if limit < base {
		limit = DefaultCap
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			delay = limit
			break
		}
	}

	return addJitter(delay)
}

// addJitter は遅延に±jitterFactorの範囲で一様な揺らぎを加える。
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	delta := float64(d) * jitterFactor
	j := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + j)
}
