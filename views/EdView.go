package views

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/GrainArc/GeoEdit/methods"
	"github.com/GrainArc/GeoEdit/models"
)

// readFeatures 请求体可以是 FeatureCollection 或单个 Feature
func readFeatures(c *gin.Context) ([]*geojson.Feature, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("invalid geojson: %w", err)
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(body)
		if err != nil {
			return nil, fmt.Errorf("invalid feature: %w", err)
		}
		return []*geojson.Feature{f}, nil
	}
	return nil, fmt.Errorf("unsupported geojson type %q", head.Type)
}

// ListFeatures 图层全部要素，?key= 时只返回自然键匹配的要素（可能为空集合）
func (uc *UserController) ListFeatures(c *gin.Context) {
	var rows []models.StoredFeature
	if key, ok := c.GetQuery("key"); ok {
		row, err := uc.Store.GetByKey(uc.DB, key)
		if err != nil && !isNotFound(err) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if row != nil {
			rows = append(rows, *row)
		}
	} else {
		var err error
		if rows, err = uc.Store.List(uc.DB); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	fc, err := methods.MakeGeoJSON(rows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fc)
}

// GetFeature 按记录 id 取单个要素，返回只含该要素的 FeatureCollection
func (uc *UserController) GetFeature(c *gin.Context) {
	row, err := uc.Store.Get(uc.DB, c.Param("id"))
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	fc, err := methods.MakeGeoJSON([]models.StoredFeature{*row})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, fc)
}

// CreateFeatures 批量新增，客户端本地 id 忽略
func (uc *UserController) CreateFeatures(c *gin.Context) {
	features, err := readFeatures(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(features) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no features"})
		return
	}
	for _, f := range features {
		if f.Geometry == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "feature without geometry"})
			return
		}
	}

	changes, err := uc.commit(ulid.Make().String(), username(c), func(tx *gorm.DB) ([]change, error) {
		var out []change
		for _, f := range features {
			row, err := uc.Store.Insert(tx, f)
			if err != nil {
				return nil, err
			}
			created, err := methods.RowToFeature(row)
			if err != nil {
				return nil, err
			}
			out = append(out, change{typ: methods.RecordInsert, row: row, newFeature: created})
		}
		return out, nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, ch := range changes {
		fc.Append(ch.newFeature)
	}
	c.JSON(http.StatusCreated, fc)
}

// UpdateFeature 合并属性，几何可省略
func (uc *UserController) UpdateFeature(c *gin.Context) {
	features, err := readFeatures(c)
	if err != nil || len(features) != 1 {
		if err == nil {
			err = fmt.Errorf("expected exactly one feature")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f := features[0]
	id := c.Param("id")

	changes, err := uc.commit(ulid.Make().String(), username(c), func(tx *gorm.DB) ([]change, error) {
		row, err := uc.Store.Get(tx, id)
		if err != nil {
			return nil, err
		}
		old, err := methods.RowToFeature(row)
		if err != nil {
			return nil, err
		}
		if err := uc.Store.Update(tx, row, f.Geometry, f.Properties); err != nil {
			return nil, err
		}
		updated, err := methods.RowToFeature(row)
		if err != nil {
			return nil, err
		}
		return []change{{typ: methods.RecordUpdate, row: row, oldFeature: old, newFeature: updated}}, nil
	})
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, changes[0].newFeature)
}

func (uc *UserController) DeleteFeature(c *gin.Context) {
	id := c.Param("id")
	_, err := uc.commit(ulid.Make().String(), username(c), func(tx *gorm.DB) ([]change, error) {
		row, err := uc.Store.Get(tx, id)
		if err != nil {
			return nil, err
		}
		old, err := methods.RowToFeature(row)
		if err != nil {
			return nil, err
		}
		if err := uc.Store.Delete(tx, row); err != nil {
			return nil, err
		}
		return []change{{typ: methods.RecordDelete, row: row, oldFeature: old}}, nil
	})
	if isNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetRecords 编辑历史 ?key=&limit=
func (uc *UserController) GetRecords(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	records, err := methods.Records(uc.DB, uc.Store.Layer, c.Query("key"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, records)
}

// RevertRecord 撤销一条编辑历史：新增的删除，删除的恢复，修改的还原为修改前
func (uc *UserController) RevertRecord(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}
	var record models.GeoRecord
	if err := uc.DB.Where("id = ? AND layer = ?", id, uc.Store.Layer).First(&record).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}

	_, err = uc.commit(ulid.Make().String(), username(c), func(tx *gorm.DB) ([]change, error) {
		switch record.Type {
		case methods.RecordInsert:
			row, err := uc.Store.GetByID(tx, record.GeoID)
			if err != nil {
				return nil, err
			}
			current, err := methods.RowToFeature(row)
			if err != nil {
				return nil, err
			}
			if err := uc.Store.Delete(tx, row); err != nil {
				return nil, err
			}
			return []change{{typ: methods.RecordDelete, row: row, oldFeature: current}}, nil

		case methods.RecordDelete:
			old, err := geojson.UnmarshalFeature([]byte(record.OldGeojson))
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", record.ID, err)
			}
			row, err := uc.Store.Insert(tx, old)
			if err != nil {
				return nil, err
			}
			restored, err := methods.RowToFeature(row)
			if err != nil {
				return nil, err
			}
			return []change{{typ: methods.RecordInsert, row: row, newFeature: restored}}, nil

		case methods.RecordUpdate:
			old, err := geojson.UnmarshalFeature([]byte(record.OldGeojson))
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", record.ID, err)
			}
			row, err := uc.Store.GetByID(tx, record.GeoID)
			if err != nil {
				return nil, err
			}
			current, err := methods.RowToFeature(row)
			if err != nil {
				return nil, err
			}
			if err := uc.Store.Replace(tx, row, old); err != nil {
				return nil, err
			}
			restored, err := methods.RowToFeature(row)
			if err != nil {
				return nil, err
			}
			return []change{{typ: methods.RecordUpdate, row: row, oldFeature: current, newFeature: restored}}, nil
		}
		return nil, fmt.Errorf("unknown record type %q", record.Type)
	})
	if isNotFound(err) {
		c.JSON(http.StatusConflict, gin.H{"error": "feature no longer exists"})
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("record", id).Msg("revert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, "ok")
}
