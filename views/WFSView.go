package views

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/GrainArc/GeoEdit/methods"
	"github.com/GrainArc/GeoEdit/models"
	"github.com/GrainArc/GeoEdit/wfst"
)

var (
	// errTypeName 事务中的要素类型与服务图层不一致
	errTypeName = errors.New("unknown feature type")
	errNoMatch  = errors.New("filter matched no features")
)

func describeFilter(f *wfst.Filter) string {
	if f == nil {
		return "<none>"
	}
	if len(f.FeatureIDs) > 0 {
		return "fid in " + strings.Join(f.FeatureIDs, ",")
	}
	return f.PropertyName + " = " + f.Literal
}

// findTargets 更新与删除必须命中至少一个要素，否则整个事务失败
func (uc *UserController) findTargets(db *gorm.DB, op wfst.Operation) ([]models.StoredFeature, error) {
	rows, err := uc.Store.Find(db, op.Filter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w (%s)", op.Action, errNoMatch, describeFilter(op.Filter))
	}
	return rows, nil
}

func localName(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (uc *UserController) matchTypeName(typeName string) bool {
	return typeName == uc.Store.Layer || localName(typeName) == localName(uc.Store.Layer)
}

// WFSTransaction WFS-T 事务：整个请求在一个数据库事务里执行，任一操作失败则全部回滚并返回 FAILED
func (uc *UserController) WFSTransaction(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Data(http.StatusBadRequest, "text/xml", wfst.EncodeException("InvalidRequest", err.Error()))
		return
	}
	tx, err := wfst.ParseTransaction(body)
	if err != nil {
		log.Warn().Err(err).Msg("invalid wfs transaction")
		c.Data(http.StatusBadRequest, "text/xml", wfst.EncodeException("InvalidRequest", err.Error()))
		return
	}
	handle := tx.Handle
	if handle == "" {
		handle = ulid.Make().String()
	}

	result := &wfst.Result{Success: true}
	_, err = uc.commit(handle, username(c), func(db *gorm.DB) ([]change, error) {
		var out []change
		for _, op := range tx.Operations {
			if !uc.matchTypeName(op.TypeName) {
				return nil, fmt.Errorf("%w %s", errTypeName, op.TypeName)
			}
			switch op.Action {
			case wfst.Insert:
				row, err := uc.Store.Insert(db, op.Feature)
				if err != nil {
					return nil, err
				}
				created, err := methods.RowToFeature(row)
				if err != nil {
					return nil, err
				}
				result.InsertedIDs = append(result.InsertedIDs, uc.Store.FeatureID(row))
				result.TotalInserted++
				out = append(out, change{typ: methods.RecordInsert, row: row, newFeature: created})

			case wfst.Update:
				rows, err := uc.findTargets(db, op)
				if err != nil {
					return nil, err
				}
				for i := range rows {
					row := &rows[i]
					old, err := methods.RowToFeature(row)
					if err != nil {
						return nil, err
					}
					if err := uc.Store.Update(db, row, op.Geometry, op.Properties); err != nil {
						return nil, err
					}
					updated, err := methods.RowToFeature(row)
					if err != nil {
						return nil, err
					}
					result.TotalUpdated++
					out = append(out, change{typ: methods.RecordUpdate, row: row, oldFeature: old, newFeature: updated})
				}

			case wfst.Delete:
				rows, err := uc.findTargets(db, op)
				if err != nil {
					return nil, err
				}
				for i := range rows {
					row := &rows[i]
					old, err := methods.RowToFeature(row)
					if err != nil {
						return nil, err
					}
					if err := uc.Store.Delete(db, row); err != nil {
						return nil, err
					}
					result.TotalDeleted++
					out = append(out, change{typ: methods.RecordDelete, row: row, oldFeature: old})
				}
			}
		}
		return out, nil
	})
	if err != nil {
		result = &wfst.Result{Success: false, Message: err.Error()}
	}

	resp, err := wfst.EncodeResult(result)
	if err != nil {
		c.Data(http.StatusInternalServerError, "text/xml", wfst.EncodeException("NoApplicableCode", err.Error()))
		return
	}
	log.Info().Str("handle", handle).
		Int("inserted", result.TotalInserted).
		Int("updated", result.TotalUpdated).
		Int("deleted", result.TotalDeleted).
		Bool("success", result.Success).
		Msg("wfs transaction")
	c.Data(http.StatusOK, "text/xml", resp)
}
