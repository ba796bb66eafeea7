// Package session 维护要素选择、编辑状态与后端同步。
//
// 状态流转：Idle（无选择）→ Selected（已选择，未编辑）→ Editing（几何已载入绘图缓冲区）→
// 保存、删除或取消后回到 Idle。选择、编辑标志和绘图模式只由 Session 修改。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/GrainArc/GeoEdit/draw"
	"github.com/GrainArc/GeoEdit/wfst"
)

// State 会话状态
type State int

const (
	Idle State = iota
	Selected
	Editing
)

func (s State) String() string {
	switch s {
	case Selected:
		return "selected"
	case Editing:
		return "editing"
	}
	return "idle"
}

var (
	// ErrBusy 另一个保存或删除尚未完成
	ErrBusy = errors.New("session: another save or delete is in flight")
	// ErrNoSelection 当前没有选中要素
	ErrNoSelection = errors.New("session: no feature selected")
	// ErrNoGeometry 要素没有有效几何
	ErrNoGeometry = errors.New("session: feature has no geometry")
)

// Deps 会话依赖，全部在构造时注入
type Deps struct {
	Surface     draw.Surface
	Backend     Backend
	Notifier    Notifier
	Invalidator Invalidator
}

// Session 单要素编辑会话
type Session struct {
	surface     draw.Surface
	backend     Backend
	notifier    Notifier
	invalidator Invalidator

	mu       sync.Mutex
	selected *geojson.Feature
	editing  bool
	editID   string    // 编辑中要素在绘图缓冲区的本地 id
	mode     draw.Mode // activeDrawMode
	busy     bool

	// 选择变化与会话主动改写缓冲区时分别递增，异步提交完成后据此丢弃过期结果
	selGen uint64
	bufGen uint64

	flight singleflight.Group
}

func New(d Deps) *Session {
	if d.Notifier == nil {
		d.Notifier = LogNotifier{}
	}
	return &Session{
		surface:     d.Surface,
		backend:     d.Backend,
		notifier:    d.Notifier,
		invalidator: d.Invalidator,
		mode:        draw.ModeNone,
	}
}

func cloneFeature(f *geojson.Feature) *geojson.Feature {
	if f == nil {
		return nil
	}
	c := geojson.NewFeature(nil)
	if f.Geometry != nil {
		c.Geometry = orb.Clone(f.Geometry)
	}
	c.ID = f.ID
	c.BBox = f.BBox
	for k, v := range f.Properties {
		c.Properties[k] = v
	}
	return c
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	switch {
	case s.editing:
		return Editing
	case s.selected != nil:
		return Selected
	}
	return Idle
}

// Selected 返回选中要素的副本，未选择时为 nil
func (s *Session) Selected() *geojson.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFeature(s.selected)
}

func (s *Session) IsEditing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing
}

func (s *Session) ActiveDrawMode() draw.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// clearLocked 清空缓冲区并回到 Idle，顺序：先清缓冲区再改状态
func (s *Session) clearLocked() {
	s.surface.ClearAll()
	if s.editing {
		s.mode = draw.ModeSimpleSelect
		s.surface.ChangeMode(draw.ModeSimpleSelect, draw.Options{})
	}
	s.selected = nil
	s.editing = false
	s.editID = ""
	s.selGen++
	s.bufGen++
}

// Select 选中要素；nil 表示取消选择。没有几何的要素不会被选中。
// 编辑中切换选择会丢弃未保存的编辑几何。
func (s *Session) Select(f *geojson.Feature) error {
	if f == nil {
		s.Cancel()
		return nil
	}
	if f.Geometry == nil {
		s.notifier.Notify(LevelWarning, "The selected feature is not valid.")
		return ErrNoGeometry
	}

	s.mu.Lock()
	if s.editing {
		s.clearLocked()
	}
	s.selected = cloneFeature(f)
	s.selGen++
	s.mu.Unlock()

	log.Debug().Interface("id", f.ID).Msg("feature selected")
	s.notifier.Notify(LevelSuccess, "Feature selected.")
	return nil
}

// Cancel 清空缓冲区和选择，不发起任何请求
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// BeginEdit 将选中要素载入绘图缓冲区：清空 → 添加 → direct_select
func (s *Session) BeginEdit() error {
	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		s.notifier.Notify(LevelWarning, "Select a feature first.")
		return ErrNoSelection
	}
	if s.editing {
		s.mu.Unlock()
		return nil
	}

	s.surface.ClearAll()
	ids := s.surface.Add(s.selected)
	if len(ids) == 0 {
		s.mu.Unlock()
		s.notifier.Notify(LevelError, "Could not start editing.")
		return ErrNoGeometry
	}
	s.surface.ChangeMode(draw.ModeDirectSelect, draw.Options{FeatureID: ids[0]})
	s.mode = draw.ModeDirectSelect
	s.editing = true
	s.editID = ids[0]
	s.bufGen++
	s.mu.Unlock()

	log.Debug().Str("localID", ids[0]).Msg("edit started")
	s.notifier.Notify(LevelInfo, "Editing feature.")
	return nil
}

// SetTool 工具栏选择绘图工具
func (s *Session) SetTool(toolKey string) draw.Mode {
	mode := draw.ModeForTool(toolKey)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.surface.ChangeMode(mode, draw.Options{})
	return mode
}

// acquire 标记一次提交开始；已有提交在进行时返回 ErrBusy
func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Save 保存缓冲区。并发的重复调用合并为一次提交。
//   - Editing：用缓冲区第一个要素的几何更新选中要素，成功后清空缓冲区和选择。
//   - 其他：缓冲区里的新绘制要素批量新增，成功后清空缓冲区，选择不变。
//
// 失败时缓冲区与状态保持不变，可以重试或取消。
func (s *Session) Save(ctx context.Context) error {
	_, err, shared := s.flight.Do("save", func() (interface{}, error) {
		return nil, s.save(ctx)
	})
	if shared {
		log.Debug().Msg("save coalesced with pending call")
	}
	return err
}

func (s *Session) save(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	drawn := s.surface.GetAll()
	editing := s.editing
	selected := cloneFeature(s.selected)
	editID := s.editID
	selGen, bufGen := s.selGen, s.bufGen
	s.mu.Unlock()

	if drawn == nil || len(drawn.Features) == 0 {
		return nil
	}
	if editing {
		return s.saveEdit(ctx, selected, editedFeature(selected, drawn, editID), selGen)
	}
	return s.saveNew(ctx, drawn, bufGen)
}

// editedFeature 缓冲区中编辑要素的几何 + 选中要素的属性
func editedFeature(selected *geojson.Feature, drawn *geojson.FeatureCollection, editID string) *geojson.Feature {
	source := drawn.Features[0]
	for _, f := range drawn.Features {
		if id, ok := f.ID.(string); ok && id == editID {
			source = f
			break
		}
	}
	edited := cloneFeature(selected)
	edited.Geometry = orb.Clone(source.Geometry)
	for k, v := range source.Properties {
		edited.Properties[k] = v
	}
	return edited
}

func (s *Session) saveEdit(ctx context.Context, selected, edited *geojson.Feature, selGen uint64) error {
	if err := s.backend.Update(ctx, selected, edited); err != nil {
		s.fail("Failed to update the geometry", err)
		return err
	}

	s.mu.Lock()
	if s.selGen == selGen {
		s.clearLocked()
	}
	s.mu.Unlock()

	s.invalidate(ctx)
	s.notifier.Notify(LevelSuccess, "Geometry updated.")
	return nil
}

// saveNew 非编辑状态下选中要素不在缓冲区中，缓冲区里的要素全部是新绘制的
func (s *Session) saveNew(ctx context.Context, drawn *geojson.FeatureCollection, bufGen uint64) error {
	var inserts []*geojson.Feature
	saved := make(map[interface{}]bool)
	for _, f := range drawn.Features {
		saved[f.ID] = true
		c := cloneFeature(f)
		c.ID = nil
		inserts = append(inserts, c)
	}
	if len(inserts) == 0 {
		return nil
	}

	if err := s.backend.Insert(ctx, inserts); err != nil {
		s.fail("Failed to save the geometries", err)
		return err
	}

	s.mu.Lock()
	if s.bufGen == bufGen {
		// 提交期间用户新画的要素保留在缓冲区（重新分配本地 id）
		current := s.surface.GetAll()
		s.surface.ClearAll()
		for _, f := range current.Features {
			if !saved[f.ID] {
				s.surface.Add(f)
			}
		}
		s.bufGen++
	}
	s.mu.Unlock()

	s.invalidate(ctx)
	s.notifier.Notify(LevelSuccess, fmt.Sprintf("%d geometries saved.", len(inserts)))
	return nil
}

// Delete 删除选中要素。成功后清空缓冲区和选择；失败时状态不变。
func (s *Session) Delete(ctx context.Context) error {
	_, err, _ := s.flight.Do("delete", func() (interface{}, error) {
		return nil, s.delete(ctx)
	})
	return err
}

func (s *Session) delete(ctx context.Context) error {
	s.mu.Lock()
	selected := cloneFeature(s.selected)
	selGen := s.selGen
	s.mu.Unlock()
	if selected == nil {
		s.notifier.Notify(LevelWarning, "Select a feature before deleting.")
		return ErrNoSelection
	}

	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	if err := s.backend.Delete(ctx, selected); err != nil {
		s.fail("Failed to delete the feature", err)
		return err
	}

	s.mu.Lock()
	if s.selGen == selGen {
		s.clearLocked()
	}
	s.mu.Unlock()

	s.invalidate(ctx)
	s.notifier.Notify(LevelSuccess, "Feature deleted.")
	return nil
}

func (s *Session) invalidate(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
}

// fail 记录错误并提示用户，后端拒绝时附带后端给出的原因
func (s *Session) fail(msg string, err error) {
	log.Error().Err(err).Msg(msg)
	var rejected *wfst.BackendRejected
	if errors.As(err, &rejected) && rejected.Message != "" {
		msg = msg + ": " + rejected.Message
	}
	s.notifier.Notify(LevelError, msg+".")
}
