package router

import (
	"context"

	"talent-match-go/internal/api/handler"
	"talent-match-go/internal/config"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
)

// RegisterRoutes 注册 API 路由。
// 配置了 Server.APIKey 时, /api/v1 下的所有路由要求 Bearer 鉴权。
func RegisterRoutes(
	h *server.Hertz,
	cfg *config.Config,
	profileHandler *handler.ProfileHandler,
	jobHandler *handler.JobHandler,
	matchHandler *handler.MatchHandler,
) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if cfg.Server.APIKey != "" {
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
			keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
				return key == cfg.Server.APIKey, nil
			}),
		))
	}

	api.POST("/profiles/upload", profileHandler.HandleUpload)
	api.GET("/profiles/:profile_id", profileHandler.HandleGetProfile)

	api.POST("/jobs", jobHandler.HandleCreateJob)
	api.GET("/jobs", jobHandler.HandleListJobs)
	api.GET("/jobs/:job_id", jobHandler.HandleGetJob)
	api.POST("/jobs/:job_id/close", jobHandler.HandleCloseJob)

	api.POST("/jobs/:job_id/match", matchHandler.HandleBatchMatch)
	api.GET("/jobs/:job_id/match/progress", matchHandler.HandleBatchMatchProgress)
	api.POST("/jobs/:job_id/match/:profile_id", matchHandler.HandleMatchOne)
	api.GET("/jobs/:job_id/candidates", matchHandler.HandleListCandidates)
}
