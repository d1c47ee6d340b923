package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/user/startv/internal/config"
	"github.com/user/startv/internal/handler"
	"github.com/user/startv/internal/middleware"
	"github.com/user/startv/internal/utils"
)

// Setup 创建路由
func Setup(cfg *config.Config, h *handler.Handler) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler.RegisterValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Security())
	r.Use(middleware.CORS())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		utils.Success(c, gin.H{"status": "ok", "site": cfg.SiteName})
	})

	// 认证
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/logout", middleware.OptionalAuth(cfg.AppSecret), h.Logout)
	}

	// 站点配置读取对登录用户开放，写入走管理接口
	r.GET("/api/config", middleware.RequireAuth(cfg.AppSecret), h.GetAdminConfig)

	// 用户数据接口，全部要求登录
	api := r.Group("/api", middleware.RequireAuth(cfg.AppSecret))
	{
		api.GET("/playrecords", h.GetPlayRecords)
		api.POST("/playrecords", h.SavePlayRecord)
		api.DELETE("/playrecords", h.DeletePlayRecord)

		api.GET("/favorites", h.GetFavorites)
		api.POST("/favorites", h.SaveFavorite)
		api.DELETE("/favorites", h.DeleteFavorite)

		api.GET("/searchhistory", h.GetSearchHistory)
		api.POST("/searchhistory", h.AddSearchHistory)
		api.DELETE("/searchhistory", h.DeleteSearchHistory)

		api.GET("/skipconfigs", h.GetSkipConfigs)
		api.POST("/skipconfigs", h.SaveSkipConfig)
		api.DELETE("/skipconfigs", h.DeleteSkipConfig)

		api.GET("/stats/user", h.UserStats)
		api.GET("/updates", h.CheckUpdates)

		api.POST("/user/password", h.ChangePassword)
		api.DELETE("/user", h.DeleteAccount)
	}

	// 管理接口
	admin := r.Group("/api/admin", middleware.RequireAuth(cfg.AppSecret), middleware.RequireAdmin())
	{
		admin.PUT("/config", h.SaveAdminConfig)
		admin.GET("/users", h.ListUsers)
		admin.DELETE("/users/:username", h.AdminDeleteUser)
		admin.POST("/cache/clean", h.CleanExpiredCache)
		admin.GET("/stats/site", h.SiteStats)
	}

	return r
}
