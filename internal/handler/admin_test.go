package handler

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/user/startv/internal/cache"
	"github.com/user/startv/internal/config"
	"github.com/user/startv/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.BoltStorage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开测试数据文件失败: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	h := &Handler{
		Config: &config.Config{SiteName: "StarTV", AppSecret: "test-secret"},
		Store:  store,
		Cache:  cache.NewManager(store, cache.NewBus(), cache.DefaultConfig(), false),
	}
	return h, store
}

// deleteUserRequest 构造带路径参数的删除请求并执行
func deleteUserRequest(h *Handler, username string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("DELETE", "/api/admin/users/"+username, nil)
	c.Params = gin.Params{{Key: "username", Value: username}}
	h.AdminDeleteUser(c)
	return w
}

func TestAdminDeleteUser(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	t.Run("用户不存在", func(t *testing.T) {
		if w := deleteUserRequest(h, "ghost"); w.Code != 404 {
			t.Errorf("删除不存在的用户应返回 404，got %d", w.Code)
		}
	})

	t.Run("管理员账号受保护", func(t *testing.T) {
		if w := deleteUserRequest(h, "admin"); w.Code != 403 {
			t.Errorf("删除管理员应返回 403，got %d", w.Code)
		}
	})

	t.Run("正常删除", func(t *testing.T) {
		if err := store.RegisterUser(ctx, "alice", "password123"); err != nil {
			t.Fatalf("注册失败: %v", err)
		}
		if w := deleteUserRequest(h, "alice"); w.Code != 200 {
			t.Errorf("删除已注册用户应返回 200，got %d", w.Code)
		}
		if exist, _ := store.CheckUserExist(ctx, "alice"); exist {
			t.Errorf("删除后用户不应存在")
		}
	})
}
