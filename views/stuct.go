package views

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/GrainArc/GeoEdit/methods"
	"github.com/GrainArc/GeoEdit/models"
	"github.com/GrainArc/GeoEdit/pgmvt"
	"github.com/GrainArc/GeoEdit/transport"
)

type UserController struct {
	DB        *gorm.DB
	Store     methods.FeatureStore
	Tiles     pgmvt.TileEvictor     // 可为 nil
	Hub       *Hub                  // 可为 nil
	GeoServer *transport.GeoServer // 可为 nil
}

func NewUserController(db *gorm.DB, store methods.FeatureStore, tiles pgmvt.TileEvictor, hub *Hub, geoserver *transport.GeoServer) *UserController {
	return &UserController{DB: db, Store: store, Tiles: tiles, Hub: hub, GeoServer: geoserver}
}

// change 一次写操作对单个要素的影响
type change struct {
	typ        string
	row        *models.StoredFeature
	oldFeature *geojson.Feature
	newFeature *geojson.Feature
}

func username(c *gin.Context) string {
	if u := c.GetHeader("X-Username"); u != "" {
		return u
	}
	if u := c.Query("Username"); u != "" {
		return u
	}
	return "anonymous"
}

// commit 在一个数据库事务中执行 apply，写编辑历史；提交成功后删除缓存瓦片并广播失效消息
func (uc *UserController) commit(handle, user string, apply func(tx *gorm.DB) ([]change, error)) ([]change, error) {
	sess, err := methods.BeginSession(uc.DB, handle, uc.Store.Layer, user)
	if err != nil {
		return nil, err
	}

	var changes []change
	err = uc.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		changes, err = apply(tx)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			if err := methods.AddRecord(tx, sess.ID, ch.typ, ch.row, ch.oldFeature, ch.newFeature, user); err != nil {
				return err
			}
		}
		return nil
	})

	status := models.SessionCommitted
	if err != nil {
		status = models.SessionRolledBack
	}
	if ferr := methods.FinishSession(uc.DB, sess, status); ferr != nil {
		log.Error().Err(ferr).Int64("session", sess.ID).Msg("failed to finish edit session")
	}
	if err != nil {
		log.Warn().Err(err).Str("handle", handle).Msg("edit rolled back")
		return nil, err
	}

	uc.invalidate(handle, changes)
	return changes, nil
}

// invalidate 删除修改前后几何覆盖的瓦片，通知客户端重新拉取
func (uc *UserController) invalidate(handle string, changes []change) {
	if len(changes) == 0 {
		return
	}
	var geoms []orb.Geometry
	var keys []string
	for _, ch := range changes {
		if ch.oldFeature != nil {
			geoms = append(geoms, ch.oldFeature.Geometry)
		}
		if ch.newFeature != nil {
			geoms = append(geoms, ch.newFeature.Geometry)
		}
		keys = append(keys, ch.row.Key)
	}
	inv := pgmvt.DelMVT(uc.Tiles, uc.Store.Layer, geoms...)
	if uc.Hub != nil {
		uc.Hub.Broadcast(newInvalidateMessage(handle, keys, inv))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, methods.ErrNotFound)
}
