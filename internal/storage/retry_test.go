package storage

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"
)

func TestWithRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "storage.Test", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if calls != 1 {
		t.Errorf("调用次数 = %d，期望 1", calls)
	}
}

func TestWithRetryDataErrorNoRetry(t *testing.T) {
	// 数据类错误不重试，立即返回
	calls := 0
	err := withRetry(context.Background(), "storage.Test", func() error {
		calls++
		return errors.New("数据损坏")
	})
	if err == nil {
		t.Fatal("应当报错")
	}
	if calls != 1 {
		t.Errorf("调用次数 = %d，期望 1（不重试）", calls)
	}
	if IsConnError(err) {
		t.Errorf("不应归为连接类错误")
	}
}

func TestWithRetryRecoversAfterConnError(t *testing.T) {
	if testing.Short() {
		t.Skip("重试退避耗时较长")
	}
	calls := 0
	err := withRetry(context.Background(), "storage.Test", func() error {
		calls++
		if calls == 1 {
			return syscall.ECONNRESET
		}
		return nil
	})
	if err != nil {
		t.Fatalf("第二次应成功: %v", err)
	}
	if calls != 2 {
		t.Errorf("调用次数 = %d，期望 2", calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		// 第一次失败进入退避等待后取消
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := withRetry(ctx, "storage.Test", func() error {
		calls++
		return syscall.ECONNREFUSED
	})
	if err == nil {
		t.Fatal("应当报错")
	}
	if calls != 1 {
		t.Errorf("调用次数 = %d，期望 1", calls)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("取消后应立即返回，实际耗时 %v", time.Since(start))
	}
}
