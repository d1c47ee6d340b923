package storage

import (
	"context"
	"log"
	"time"
)

const maxRetries = 3

// 重试间隔：第 1 次失败后等 1s，之后 2s、3s
var retryBackoff = []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}

// withRetry 对连接类错误自动重试，最多 3 次，退避 1s/2s/3s
// 非连接类错误（数据损坏、认证失败）立即返回，不重试
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff[attempt-1]
			log.Printf("[Storage] %s 连接失败，%v 后重试（第 %d/%d 次）: %v", op, backoff, attempt, maxRetries, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return classify(op, ctx.Err())
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		err = classify(op, err)
		if !IsConnError(err) {
			return err
		}
	}
	return err
}
