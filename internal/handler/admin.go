package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/startv/internal/model"
	"github.com/user/startv/internal/storage"
	"github.com/user/startv/internal/utils"
)

// GetAdminConfig 获取站点管理配置
// 还没有保存过配置时返回带默认站名的空配置
func (h *Handler) GetAdminConfig(c *gin.Context) {
	cfg, err := h.Store.GetAdminConfig(c.Request.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			utils.Success(c, &model.AdminConfig{
				SiteName:    h.Config.SiteName,
				SourceSites: []model.SourceSite{},
			})
			return
		}
		utils.InternalServerError(c, "获取站点配置失败")
		return
	}
	utils.Success(c, cfg)
}

// SaveAdminConfig 保存站点管理配置，整体替换
func (h *Handler) SaveAdminConfig(c *gin.Context) {
	var cfg model.AdminConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		utils.BadRequest(c, "配置格式不正确")
		return
	}
	cfg.UpdatedTime = time.Now().UnixMilli()

	if err := h.Store.SetAdminConfig(c.Request.Context(), &cfg); err != nil {
		utils.InternalServerError(c, "保存站点配置失败")
		return
	}
	utils.Success(c, &cfg)
}

// ListUsers 枚举全部用户名（管理员）
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.Store.GetAllUsers(c.Request.Context())
	if err != nil {
		utils.InternalServerError(c, "获取用户列表失败")
		return
	}
	utils.Success(c, users)
}

// AdminDeleteUser 管理员删除用户及其全部数据
func (h *Handler) AdminDeleteUser(c *gin.Context) {
	username := c.Param("username")
	if username == "" {
		utils.BadRequest(c, "缺少用户名")
		return
	}
	if username == "admin" {
		utils.Forbidden(c, "不能删除管理员账号")
		return
	}

	// DeleteUser 对不存在的用户也返回成功（删除是幂等的），存在性单独检查
	exist, err := h.Store.CheckUserExist(c.Request.Context(), username)
	if err != nil {
		utils.InternalServerError(c, "删除用户失败")
		return
	}
	if !exist {
		utils.NotFound(c, "用户不存在")
		return
	}

	if err := h.Store.DeleteUser(c.Request.Context(), username); err != nil {
		utils.InternalServerError(c, "删除用户失败")
		return
	}
	h.Cache.PurgeUser(username)
	utils.Success(c, nil)
}

// CleanExpiredCache 清理通用缓存中的过期条目（管理员）
func (h *Handler) CleanExpiredCache(c *gin.Context) {
	if err := h.Store.ClearExpiredCache(c.Request.Context(), c.Query("prefix")); err != nil {
		utils.InternalServerError(c, "清理缓存失败")
		return
	}
	utils.Success(c, nil)
}
