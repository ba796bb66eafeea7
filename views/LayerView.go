package views

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/clause"

	"github.com/GrainArc/GeoEdit/models"
)

type layerItem struct {
	models.LayerMeta
	Origin string `json:"Origin"` // local / geoserver
	Href   string `json:"Href,omitempty"`
}

// GetLayers 本地图层配置 + GeoServer 发布的图层，GeoServer 不可用时只返回本地配置
func (uc *UserController) GetLayers(c *gin.Context) {
	var metas []models.LayerMeta
	if err := uc.DB.Order("id").Find(&metas).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	known := make(map[string]bool, len(metas))
	items := make([]layerItem, 0, len(metas))
	for _, m := range metas {
		known[m.EN] = true
		items = append(items, layerItem{LayerMeta: m, Origin: "local"})
	}

	if uc.GeoServer != nil {
		layers, err := uc.GeoServer.Layers(c.Request.Context())
		if err != nil {
			log.Warn().Err(err).Msg("geoserver layer listing failed")
		}
		for _, l := range layers {
			if known[l.Name] || known[localName(l.Name)] {
				continue
			}
			items = append(items, layerItem{
				LayerMeta: models.LayerMeta{EN: l.Name, CN: l.Name},
				Origin:    "geoserver",
				Href:      l.Href,
			})
		}
	}
	c.JSON(http.StatusOK, items)
}

// AddLayer 新增或按 EN 覆盖图层配置
func (uc *UserController) AddLayer(c *gin.Context) {
	var meta models.LayerMeta
	if err := c.ShouldBindJSON(&meta); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if meta.EN == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "EN is required"})
		return
	}
	meta.ID = 0
	meta.UpdatedDate = time.Now().Format("2006-01-02 15:04:05")
	err := uc.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "en"}},
		DoUpdates: clause.AssignmentColumns([]string{"main", "cn", "type", "interactive", "source", "updated_date"}),
	}).Create(&meta).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var saved models.LayerMeta
	uc.DB.Where("en = ?", meta.EN).First(&saved)
	c.JSON(http.StatusOK, saved)
}
