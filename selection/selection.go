// Package selection 把地图上的点击解析为后端要素并交给编辑会话。
package selection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/GrainArc/GeoEdit/session"
	"github.com/GrainArc/GeoEdit/wfst"
)

// DefaultTolerance 点击容差（像素）
const DefaultTolerance = 8

// DefaultLayerPrefixes 可交互要素图层的 id 前缀
var DefaultLayerPrefixes = []string{"feature-", "selected-backend-feature-"}

const (
	EventClick      = "click"
	EventMouseEnter = "mouseenter"
	EventMouseLeave = "mouseleave"
	EventStyleData  = "styledata"
)

// RenderedFeature 渲染端返回的要素，只带图层 id、要素 id 和属性
type RenderedFeature struct {
	LayerID    string
	ID         interface{}
	Properties map[string]interface{}
}

// MapEvent 指针事件，Point 为屏幕像素坐标
type MapEvent struct {
	Point orb.Point
}

// Map 地图渲染端
type Map interface {
	QueryFeaturesNear(p orb.Point, radius float64, layerIDs []string) []RenderedFeature
	StyleLayerIDs() []string
	HasLayer(id string) bool
	// On 注册监听，layerID 为空表示整张地图；返回的函数用于注销
	On(event, layerID string, fn func(MapEvent)) (off func())
	SetCursor(cursor string)
}

// Lookup 取完整要素：自然键或记录 id，transport.FeatureAPI 实现该接口
type Lookup interface {
	GetFeatureByKey(ctx context.Context, key string) (*geojson.Feature, error)
	GetFeatureByID(ctx context.Context, id string) (*geojson.Feature, error)
}

// Selector 接收选择结果，session.Session 实现该接口
type Selector interface {
	Select(f *geojson.Feature) error
}

// ResolutionError 渲染要素无法对应到后端记录
type ResolutionError struct {
	LayerID string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("rendered feature on layer %q has no backend key", e.LayerID)
}

type Options struct {
	KeyAttribute  string
	Tolerance     float64
	LayerPrefixes []string
}

// Sync 监听地图事件并维护选择
type Sync struct {
	selector Selector
	lookup   Lookup
	notifier session.Notifier
	opts     Options

	mu       sync.Mutex
	applyMu  sync.Mutex // 令牌检查与 Select 在同一临界区
	m        Map
	clickOff func()
	styleOff func()
	hover    map[string][]func()
	token    uint64
}

func New(selector Selector, lookup Lookup, notifier session.Notifier, opts Options) *Sync {
	if opts.KeyAttribute == "" {
		opts.KeyAttribute = wfst.DefaultOptions().KeyAttribute
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if len(opts.LayerPrefixes) == 0 {
		opts.LayerPrefixes = DefaultLayerPrefixes
	}
	if notifier == nil {
		notifier = session.LogNotifier{}
	}
	return &Sync{
		selector: selector,
		lookup:   lookup,
		notifier: notifier,
		opts:     opts,
		hover:    make(map[string][]func()),
	}
}

// Attach 绑定地图。同一张地图重复绑定不会重复注册点击监听
func (s *Sync) Attach(m Map) {
	s.mu.Lock()
	if s.m == m {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Detach()

	s.mu.Lock()
	s.m = m
	s.clickOff = m.On(EventClick, "", func(ev MapEvent) {
		if err := s.HandleClick(context.Background(), ev.Point); err != nil {
			log.Debug().Err(err).Msg("click not resolved")
		}
	})
	s.styleOff = m.On(EventStyleData, "", func(MapEvent) { s.RefreshHover() })
	s.mu.Unlock()

	s.RefreshHover()
}

// Detach 注销全部监听，可重复调用。进行中的查询结果会被丢弃
func (s *Sync) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clickOff != nil {
		s.clickOff()
		s.clickOff = nil
	}
	if s.styleOff != nil {
		s.styleOff()
		s.styleOff = nil
	}
	s.detachHoverLocked(nil)
	if s.m != nil {
		s.m.SetCursor("")
	}
	s.m = nil
	s.token++
}

// detachHoverLocked 注销不在 keep 中的悬停监听
func (s *Sync) detachHoverLocked(keep map[string]bool) {
	for id, offs := range s.hover {
		if keep[id] {
			continue
		}
		for _, off := range offs {
			off()
		}
		delete(s.hover, id)
	}
}

// LayerIDs 当前样式中可交互的图层 id
func (s *Sync) LayerIDs() []string {
	s.mu.Lock()
	m := s.m
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return s.featureLayers(m)
}

func (s *Sync) featureLayers(m Map) []string {
	var ids []string
	for _, id := range m.StyleLayerIDs() {
		for _, p := range s.opts.LayerPrefixes {
			if strings.HasPrefix(id, p) && m.HasLayer(id) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// RefreshHover 根据当前样式重新挂载悬停光标监听
func (s *Sync) RefreshHover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return
	}
	m := s.m
	keep := make(map[string]bool)
	for _, id := range s.featureLayers(m) {
		keep[id] = true
	}
	s.detachHoverLocked(keep)
	for id := range keep {
		if _, ok := s.hover[id]; ok {
			continue
		}
		s.hover[id] = []func(){
			m.On(EventMouseEnter, id, func(MapEvent) { m.SetCursor("pointer") }),
			m.On(EventMouseLeave, id, func(MapEvent) { m.SetCursor("") }),
		}
	}
}

// HoverLayers 已挂载悬停监听的图层数
func (s *Sync) HoverLayers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hover)
}

// key 优先取属性中的自然键，其次渲染要素 id（即记录 id）
func (s *Sync) key(rf RenderedFeature) (value string, natural bool, ok bool) {
	if v, found := rf.Properties[s.opts.KeyAttribute]; found {
		if k := wfst.FormatValue(v); k != "" {
			return k, true, true
		}
	}
	if rf.ID != nil {
		if k := wfst.FormatValue(rf.ID); k != "" {
			return k, false, true
		}
	}
	return "", false, false
}

func (s *Sync) fetch(ctx context.Context, key string, natural bool) (*geojson.Feature, error) {
	if natural {
		return s.lookup.GetFeatureByKey(ctx, key)
	}
	return s.lookup.GetFeatureByID(ctx, key)
}

// HandleClick 处理一次点击。只有最后一次点击的结果会生效
func (s *Sync) HandleClick(ctx context.Context, p orb.Point) error {
	s.mu.Lock()
	m := s.m
	if m == nil {
		s.mu.Unlock()
		return nil
	}
	s.token++
	token := s.token
	s.mu.Unlock()

	found := m.QueryFeaturesNear(p, s.opts.Tolerance, s.featureLayers(m))
	if len(found) == 0 {
		_, err := s.apply(token, nil)
		return err
	}

	rf := found[0]
	key, natural, ok := s.key(rf)
	if !ok {
		if applied, _ := s.apply(token, nil); applied {
			s.notifier.Notify(session.LevelWarning, "This feature cannot be edited.")
		}
		return &ResolutionError{LayerID: rf.LayerID}
	}

	f, err := s.fetch(ctx, key, natural)
	if err != nil {
		if applied, _ := s.apply(token, nil); !applied {
			return nil
		}
		s.notifier.Notify(session.LevelError, "Could not load the selected feature.")
		return fmt.Errorf("failed to fetch feature %s: %w", key, err)
	}
	applied, err := s.apply(token, f)
	if !applied {
		log.Debug().Str("key", key).Msg("discarding superseded feature lookup")
	}
	return err
}

// apply 令牌仍是最新时把结果交给 selector。更新的点击会等待正在执行的 Select 结束
func (s *Sync) apply(token uint64, f *geojson.Feature) (bool, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if !s.current(token) {
		return false, nil
	}
	return true, s.selector.Select(f)
}

func (s *Sync) current(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token == token
}
