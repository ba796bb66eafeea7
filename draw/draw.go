// Package draw 封装交互式绘图工具的命令式接口（清空、添加、获取、切换模式）。
// 会话在开始编辑时必须先 ClearAll 再 Add，Add 返回的 id 只是本地临时 id，不能当作后端自然键使用。
package draw

import (
	"github.com/paulmach/orb/geojson"
)

// Mode 绘图模式
type Mode string

const (
	ModeNone          Mode = ""
	ModeDrawPoint     Mode = "draw_point"
	ModeDrawLine      Mode = "draw_line_string"
	ModeDrawPolygon   Mode = "draw_polygon"
	ModeDrawCircle    Mode = "draw_circle"
	ModeDrawRectangle Mode = "draw_rectangle"
	ModeDrawFreehand  Mode = "draw_freehand"
	ModeSimpleSelect  Mode = "simple_select"
	ModeDirectSelect  Mode = "direct_select"
)

// Options 模式参数，direct_select 需要指定要素
type Options struct {
	FeatureID string
}

// Surface 绘图缓冲区。只有编辑会话可以调用修改缓冲区的方法
type Surface interface {
	ClearAll()
	Add(f *geojson.Feature) []string
	GetAll() *geojson.FeatureCollection
	ChangeMode(mode Mode, opts Options)
}

// 工具栏按键到绘图模式
var toolModes = map[string]Mode{
	"poligono":  ModeDrawPolygon,
	"linea":     ModeDrawLine,
	"punto":     ModeDrawPoint,
	"circulo":   ModeDrawCircle,
	"extension": ModeDrawRectangle,
	"lazo":      ModeDrawFreehand,
}

// ModeForTool 未知按键回落到 simple_select
func ModeForTool(toolKey string) Mode {
	if m, ok := toolModes[toolKey]; ok {
		return m
	}
	return ModeSimpleSelect
}
