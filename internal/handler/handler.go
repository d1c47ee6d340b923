package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/user/startv/internal/cache"
	"github.com/user/startv/internal/config"
	"github.com/user/startv/internal/middleware"
	"github.com/user/startv/internal/stats"
	"github.com/user/startv/internal/storage"
	"github.com/user/startv/internal/update"
	"github.com/user/startv/internal/utils"
)

// Handler HTTP 处理器集合
type Handler struct {
	Config    *config.Config
	Store     storage.Storage
	Cache     *cache.Manager
	Stats     *stats.Aggregator
	Update    *update.Engine
	Increment stats.IncrementConfig
}

// NewHandler 创建处理器
func NewHandler(cfg *config.Config, store storage.Storage, cacheMgr *cache.Manager,
	aggregator *stats.Aggregator, engine *update.Engine) *Handler {
	return &Handler{
		Config: cfg,
		Store:  store,
		Cache:  cacheMgr,
		Stats:  aggregator,
		Update: engine,
		Increment: stats.IncrementConfig{
			FastForwardBound: cfg.FastForwardBound,
			ReplayAllowance:  cfg.ReplayAllowance,
			PauseThreshold:   cfg.PauseThreshold,
			Debounce:         cfg.Debounce,
		},
	}
}

// authRequest 注册/登录请求
type authRequest struct {
	Username string `json:"username" binding:"required,min=2,max=32,username"`
	Password string `json:"password" binding:"required,min=6,max=64"`
}

// Register 注册
func (h *Handler) Register(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "用户名或密码格式不正确")
		return
	}

	if err := h.Store.RegisterUser(c.Request.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			utils.BadRequest(c, "用户已存在")
			return
		}
		utils.InternalServerError(c, "注册失败")
		return
	}

	h.issueToken(c, req.Username)
}

// Login 登录
func (h *Handler) Login(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "用户名或密码格式不正确")
		return
	}

	ok, err := h.Store.VerifyUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			utils.Unauthorized(c, "用户名或密码错误")
			return
		}
		utils.InternalServerError(c, "登录失败")
		return
	}
	if !ok {
		utils.Unauthorized(c, "用户名或密码错误")
		return
	}

	h.issueToken(c, req.Username)
}

// issueToken 签发 JWT 并写入 Cookie
func (h *Handler) issueToken(c *gin.Context, username string) {
	role := "user"
	if username == "admin" {
		role = "admin"
	}
	token, err := middleware.GenerateToken(username, role, h.Config.AppSecret, h.Config.JWTExpiry)
	if err != nil {
		utils.InternalServerError(c, "生成令牌失败")
		return
	}
	c.SetCookie("token", token, int(h.Config.JWTExpiry.Seconds()), "/", "", false, true)
	utils.Success(c, gin.H{"username": username, "token": token})
}

// Logout 退出登录
func (h *Handler) Logout(c *gin.Context) {
	username := middleware.GetUsername(c)
	if username != "" {
		// 清掉本会话的缓存命名空间，换账号登录不会读到旧数据
		h.Cache.PurgeUser(username)
	}
	c.SetCookie("token", "", -1, "/", "", false, true)
	utils.Success(c, nil)
}

// changePasswordRequest 修改密码请求
type changePasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required,min=6,max=64"`
}

// ChangePassword 修改密码
func (h *Handler) ChangePassword(c *gin.Context) {
	username := middleware.GetUsername(c)

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "密码格式不正确")
		return
	}

	if err := h.Store.ChangePassword(c.Request.Context(), username, req.NewPassword); err != nil {
		utils.InternalServerError(c, "修改密码失败")
		return
	}
	utils.Success(c, nil)
}

// DeleteAccount 注销账号，级联删除全部数据
func (h *Handler) DeleteAccount(c *gin.Context) {
	username := middleware.GetUsername(c)

	if err := h.Store.DeleteUser(c.Request.Context(), username); err != nil {
		utils.InternalServerError(c, "注销失败")
		return
	}
	h.Cache.PurgeUser(username)
	c.SetCookie("token", "", -1, "/", "", false, true)
	utils.Success(c, nil)
}
