package routers

import (
	"github.com/gin-gonic/gin"

	"github.com/GrainArc/GeoEdit/tile_proxy"
	"github.com/GrainArc/GeoEdit/views"
)

// GeoRouters 要素服务、WFS-T、编辑历史、图层、变更推送与瓦片代理。tiles 为 nil 时不注册瓦片路由
func GeoRouters(r *gin.Engine, uc *views.UserController, tiles *tile_proxy.TileProxyService) {
	featureRouter := r.Group("/features")
	{
		featureRouter.GET("", uc.ListFeatures)
		featureRouter.POST("", uc.CreateFeatures)
		featureRouter.GET("/:id", uc.GetFeature)
		featureRouter.PUT("/:id", uc.UpdateFeature)
		featureRouter.DELETE("/:id", uc.DeleteFeature)
	}

	r.POST("/wfs", uc.WFSTransaction)

	recordRouter := r.Group("/records")
	{
		recordRouter.GET("", uc.GetRecords)
		recordRouter.POST("/:id/revert", uc.RevertRecord)
	}

	layerRouter := r.Group("/layers")
	{
		layerRouter.GET("", uc.GetLayers)
		layerRouter.POST("", uc.AddLayer)
	}

	if uc.Hub != nil {
		r.GET("/ws", uc.Hub.ServeWS)
	}
	if tiles != nil {
		tiles.RegisterRoutes(r.Group(""))
	}
}
