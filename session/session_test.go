package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/GrainArc/GeoEdit/draw"
	"github.com/GrainArc/GeoEdit/wfst"
)

type fakeSender struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
	gate   chan struct{} // 非 nil 时阻塞直到关闭
	start  chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, body []byte) (*wfst.Result, error) {
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	gate, start, err := f.gate, f.start, f.err
	f.mu.Unlock()
	if start != nil {
		start <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &wfst.Result{Success: true}, nil
}

func (f *fakeSender) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.bodies...)
}

type note struct {
	level Level
	msg   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (r *recordingNotifier) Notify(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{level, msg})
}

func (r *recordingNotifier) last() note {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) == 0 {
		return note{}
	}
	return r.notes[len(r.notes)-1]
}

type fixture struct {
	session     *Session
	buffer      *draw.Buffer
	sender      *fakeSender
	notifier    *recordingNotifier
	invalidated int32
}

func newFixture() *fixture {
	fx := &fixture{
		buffer:   draw.NewBuffer(),
		sender:   &fakeSender{},
		notifier: &recordingNotifier{},
	}
	fx.session = New(Deps{
		Surface:  fx.buffer,
		Backend:  &WFSBackend{Sender: fx.sender, Options: wfst.DefaultOptions()},
		Notifier: fx.notifier,
		Invalidator: InvalidatorFunc(func(ctx context.Context) {
			atomic.AddInt32(&fx.invalidated, 1)
		}),
	})
	return fx
}

func square(x, y float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}
}

func barrio(key string) *geojson.Feature {
	f := geojson.NewFeature(square(0, 0))
	f.ID = 12
	f.Properties["nombre"] = key
	f.Properties["distrito"] = "Lima"
	return f
}

func TestSelectAndBeginEdit(t *testing.T) {
	fx := newFixture()
	assert.Equal(t, fx.session.State(), Idle)

	assert.Equal(t, fx.session.Select(barrio("barrio-12")), nil)
	assert.Equal(t, fx.session.State(), Selected)
	assert.Equal(t, fx.buffer.Len(), 0)

	assert.Equal(t, fx.session.BeginEdit(), nil)
	assert.Equal(t, fx.session.State(), Editing)
	assert.Equal(t, fx.buffer.Len(), 1)
	mode, opts := fx.buffer.Mode()
	assert.Equal(t, mode, draw.ModeDirectSelect)
	assert.NotEqual(t, opts.FeatureID, "")
	assert.Equal(t, fx.session.ActiveDrawMode(), draw.ModeDirectSelect)

	// 缓冲区中的本地 id 不是后端 id
	assert.NotEqual(t, fx.buffer.GetAll().Features[0].ID, 12)
}

func TestSelectWithoutGeometryIsIgnored(t *testing.T) {
	fx := newFixture()
	assert.Equal(t, fx.session.Select(barrio("a")), nil)

	err := fx.session.Select(geojson.NewFeature(nil))
	assert.Equal(t, errors.Is(err, ErrNoGeometry), true)
	assert.Equal(t, fx.session.Selected().Properties["nombre"], "a")
	assert.Equal(t, fx.notifier.last().level, LevelWarning)
}

func TestBeginEditFromIdleWarns(t *testing.T) {
	fx := newFixture()
	err := fx.session.BeginEdit()
	assert.Equal(t, errors.Is(err, ErrNoSelection), true)
	assert.Equal(t, fx.session.State(), Idle)
	assert.Equal(t, fx.buffer.Len(), 0)
	assert.Equal(t, fx.notifier.last().level, LevelWarning)
}

func TestSaveEditSendsUpdateByNaturalKey(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio("barrio-12"))
	fx.session.BeginEdit()

	_, opts := fx.buffer.Mode()
	moved := square(5, 5)
	assert.Equal(t, fx.buffer.SetGeometry(opts.FeatureID, moved), true)

	assert.Equal(t, fx.session.Save(context.Background()), nil)

	sent := fx.sender.sent()
	assert.Equal(t, len(sent), 1)
	tx, err := wfst.ParseTransaction(sent[0])
	assert.Equal(t, err, nil)
	assert.Equal(t, len(tx.Operations), 1)
	op := tx.Operations[0]
	assert.Equal(t, op.Action, wfst.Update)
	assert.Equal(t, op.Filter.Literal, "barrio-12")
	assert.Equal(t, op.Geometry, orb.Geometry(moved))
	assert.Equal(t, op.Properties["distrito"], "Lima")
	assert.Equal(t, strings.Contains(string(sent[0]), opts.FeatureID), false)

	assert.Equal(t, fx.buffer.Len(), 0)
	assert.Equal(t, fx.session.State(), Idle)
	assert.Equal(t, fx.session.Selected() == nil, true)
	assert.Equal(t, fx.session.ActiveDrawMode(), draw.ModeSimpleSelect)
	assert.Equal(t, atomic.LoadInt32(&fx.invalidated), int32(1))
}

func TestSaveEditKeepsStoredKey(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio("barrio-12"))
	fx.session.BeginEdit()

	// 缓冲区里改名不影响过滤条件
	edited := fx.buffer.GetAll().Features[0]
	edited.Properties["nombre"] = "renamed"
	fx.buffer.ClearAll()
	fx.buffer.Add(edited)

	assert.Equal(t, fx.session.Save(context.Background()), nil)
	tx, err := wfst.ParseTransaction(fx.sender.sent()[0])
	assert.Equal(t, err, nil)
	assert.Equal(t, tx.Operations[0].Filter.Literal, "barrio-12")
}

func TestSaveNewDrawingsInsertsBatch(t *testing.T) {
	fx := newFixture()
	ids := []string{
		fx.buffer.Draw(square(0, 0), map[string]interface{}{"nombre": "a"}),
		fx.buffer.Draw(square(2, 0), map[string]interface{}{"nombre": "b"}),
		fx.buffer.Draw(square(4, 0), map[string]interface{}{"nombre": "c"}),
	}

	assert.Equal(t, fx.session.Save(context.Background()), nil)

	sent := fx.sender.sent()
	assert.Equal(t, len(sent), 1)
	for _, id := range ids {
		assert.Equal(t, strings.Contains(string(sent[0]), id), false)
	}
	tx, err := wfst.ParseTransaction(sent[0])
	assert.Equal(t, err, nil)
	assert.Equal(t, len(tx.Operations), 3)
	for _, op := range tx.Operations {
		assert.Equal(t, op.Action, wfst.Insert)
		assert.Equal(t, op.Feature.ID, nil)
	}
	assert.Equal(t, fx.buffer.Len(), 0)
	assert.Equal(t, atomic.LoadInt32(&fx.invalidated), int32(1))
}

func TestSaveNewKeepsSelection(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio("barrio-12"))
	fx.buffer.Draw(square(3, 3), nil)

	assert.Equal(t, fx.session.Save(context.Background()), nil)
	assert.Equal(t, fx.session.State(), Selected)
	assert.Equal(t, fx.session.Selected().Properties["nombre"], "barrio-12")
	assert.Equal(t, fx.buffer.Len(), 0)
}

func TestSaveEmptyBufferIsNoop(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio("barrio-12"))
	assert.Equal(t, fx.session.Save(context.Background()), nil)
	assert.Equal(t, len(fx.sender.sent()), 0)
	assert.Equal(t, atomic.LoadInt32(&fx.invalidated), int32(0))
}

func TestSaveTwiceSendsOneTransaction(t *testing.T) {
	fx := newFixture()
	fx.sender.gate = make(chan struct{})
	fx.sender.start = make(chan struct{}, 1)
	fx.session.Select(barrio("barrio-12"))
	fx.session.BeginEdit()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = fx.session.Save(context.Background())
	}()
	<-fx.sender.start

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = fx.session.Save(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	close(fx.sender.gate)
	wg.Wait()

	assert.Equal(t, errs[0], nil)
	assert.Equal(t, errs[1], nil)
	assert.Equal(t, len(fx.sender.sent()), 1)
	assert.Equal(t, fx.session.State(), Idle)
}

func TestDeleteWhileSavingIsBusy(t *testing.T) {
	fx := newFixture()
	fx.sender.gate = make(chan struct{})
	fx.sender.start = make(chan struct{}, 1)
	fx.session.Select(barrio("barrio-12"))
	fx.session.BeginEdit()

	done := make(chan error, 1)
	go func() { done <- fx.session.Save(context.Background()) }()
	<-fx.sender.start

	err := fx.session.Delete(context.Background())
	assert.Equal(t, errors.Is(err, ErrBusy), true)

	close(fx.sender.gate)
	assert.Equal(t, <-done, nil)
	assert.Equal(t, len(fx.sender.sent()), 1)
}

func TestSaveFailureLeavesStateUnchanged(t *testing.T) {
	fx := newFixture()
	fx.sender.err = &wfst.BackendRejected{Code: "geom", Message: "invalid polygon"}
	fx.session.Select(barrio("barrio-12"))
	fx.session.BeginEdit()

	err := fx.session.Save(context.Background())
	var rejected *wfst.BackendRejected
	assert.Equal(t, errors.As(err, &rejected), true)

	assert.Equal(t, fx.session.State(), Editing)
	assert.Equal(t, fx.buffer.Len(), 1)
	assert.Equal(t, fx.session.Selected().Properties["nombre"], "barrio-12")
	assert.Equal(t, atomic.LoadInt32(&fx.invalidated), int32(0))
	last := fx.notifier.last()
	assert.Equal(t, last.level, LevelError)
	assert.Equal(t, strings.Contains(last.msg, "invalid polygon"), true)

	// 可以重试
	fx.sender.mu.Lock()
	fx.sender.err = nil
	fx.sender.mu.Unlock()
	assert.Equal(t, fx.session.Save(context.Background()), nil)
	assert.Equal(t, fx.session.State(), Idle)
}

func TestEncodingErrorSendsNothing(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio(""))
	err := fx.session.Delete(context.Background())
	var encErr *wfst.EncodingError
	assert.Equal(t, errors.As(err, &encErr), true)
	assert.Equal(t, len(fx.sender.sent()), 0)
	assert.Equal(t, fx.session.State(), Selected)
}

func TestDeleteClearsSelection(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio("barrio-12"))
	fx.session.BeginEdit()

	assert.Equal(t, fx.session.Delete(context.Background()), nil)
	tx, err := wfst.ParseTransaction(fx.sender.sent()[0])
	assert.Equal(t, err, nil)
	assert.Equal(t, tx.Operations[0].Action, wfst.Delete)
	assert.Equal(t, tx.Operations[0].Filter.Literal, "barrio-12")

	assert.Equal(t, fx.session.State(), Idle)
	assert.Equal(t, fx.session.Selected() == nil, true)
	assert.Equal(t, fx.buffer.Len(), 0)
	assert.Equal(t, atomic.LoadInt32(&fx.invalidated), int32(1))

	assert.Equal(t, fx.session.Select(barrio("barrio-13")), nil)
	assert.Equal(t, fx.session.State(), Selected)
}

func TestDeleteWithoutSelection(t *testing.T) {
	fx := newFixture()
	err := fx.session.Delete(context.Background())
	assert.Equal(t, errors.Is(err, ErrNoSelection), true)
	assert.Equal(t, len(fx.sender.sent()), 0)
}

func TestCancelAndReselect(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio("barrio-12"))
	fx.session.BeginEdit()

	// 编辑中切换选择会丢弃编辑几何
	fx.session.Select(barrio("barrio-13"))
	assert.Equal(t, fx.session.State(), Selected)
	assert.Equal(t, fx.buffer.Len(), 0)

	fx.session.BeginEdit()
	fx.session.Select(nil)
	assert.Equal(t, fx.session.State(), Idle)
	assert.Equal(t, fx.buffer.Len(), 0)
	assert.Equal(t, len(fx.sender.sent()), 0)
}

func TestStaleDeleteDoesNotClearNewSelection(t *testing.T) {
	fx := newFixture()
	fx.sender.gate = make(chan struct{})
	fx.sender.start = make(chan struct{}, 1)
	fx.session.Select(barrio("barrio-12"))

	done := make(chan error, 1)
	go func() { done <- fx.session.Delete(context.Background()) }()
	<-fx.sender.start

	fx.session.Select(barrio("barrio-13"))
	close(fx.sender.gate)
	assert.Equal(t, <-done, nil)

	assert.Equal(t, fx.session.State(), Selected)
	assert.Equal(t, fx.session.Selected().Properties["nombre"], "barrio-13")
}

func TestDrawingDuringSaveIsKept(t *testing.T) {
	fx := newFixture()
	fx.sender.gate = make(chan struct{})
	fx.sender.start = make(chan struct{}, 1)
	fx.buffer.Draw(square(0, 0), nil)

	done := make(chan error, 1)
	go func() { done <- fx.session.Save(context.Background()) }()
	<-fx.sender.start

	fx.buffer.Draw(square(9, 9), nil)
	close(fx.sender.gate)
	assert.Equal(t, <-done, nil)

	left := fx.buffer.GetAll()
	assert.Equal(t, len(left.Features), 1)
	assert.Equal(t, left.Features[0].Geometry, orb.Geometry(square(9, 9)))
}

func TestSetTool(t *testing.T) {
	fx := newFixture()
	assert.Equal(t, fx.session.SetTool("poligono"), draw.ModeDrawPolygon)
	mode, _ := fx.buffer.Mode()
	assert.Equal(t, mode, draw.ModeDrawPolygon)
	assert.Equal(t, fx.session.SetTool("unknown"), draw.ModeSimpleSelect)
}

type fakeFeatureService struct {
	created *geojson.FeatureCollection
	updated string
	deleted string
}

func (f *fakeFeatureService) CreateFeatureCollection(ctx context.Context, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error) {
	f.created = fc
	return fc, nil
}

func (f *fakeFeatureService) UpdateFeature(ctx context.Context, id string, feature *geojson.Feature) (*geojson.Feature, error) {
	f.updated = id
	return feature, nil
}

func (f *fakeFeatureService) DeleteFeature(ctx context.Context, id string) error {
	f.deleted = id
	return nil
}

func TestRESTBackend(t *testing.T) {
	api := &fakeFeatureService{}
	buffer := draw.NewBuffer()
	s := New(Deps{Surface: buffer, Backend: &RESTBackend{API: api}})

	s.Select(barrio("barrio-12"))
	s.BeginEdit()
	assert.Equal(t, s.Save(context.Background()), nil)
	assert.Equal(t, api.updated, "12")

	s.Select(barrio("barrio-12"))
	assert.Equal(t, s.Delete(context.Background()), nil)
	assert.Equal(t, api.deleted, "12")

	buffer.Draw(square(1, 1), nil)
	buffer.Draw(square(2, 2), nil)
	assert.Equal(t, s.Save(context.Background()), nil)
	assert.Equal(t, len(api.created.Features), 2)
	assert.Equal(t, api.created.Features[0].ID, nil)
}

func TestBackendID(t *testing.T) {
	f := geojson.NewFeature(orb.Point{0, 0})
	f.Properties["nombre"] = "Miraflores"
	_, ok := BackendID(f)
	assert.Equal(t, ok, false)

	f.Properties["id"] = 4.0
	id, _ := BackendID(f)
	assert.Equal(t, id, "4")

	f.ID = "barrios.9"
	id, _ = BackendID(f)
	assert.Equal(t, id, "barrios.9")
}

func TestRESTBackendNeedsRecordID(t *testing.T) {
	api := &fakeFeatureService{}
	s := New(Deps{Surface: draw.NewBuffer(), Backend: &RESTBackend{API: api}})
	f := barrio("2")
	f.ID = nil
	s.Select(f)

	err := s.Delete(context.Background())
	var encErr *wfst.EncodingError
	assert.Equal(t, errors.As(err, &encErr), true)
	assert.Equal(t, api.deleted, "")
	assert.Equal(t, s.State(), Selected)
}

func TestSaveNewKeepsDrawingMatchingSelection(t *testing.T) {
	fx := newFixture()
	fx.session.Select(barrio("barrio-12"))
	// 与选中要素几何相同的新绘制要素照样新增
	fx.buffer.Draw(square(0, 0), map[string]interface{}{"nombre": "copia"})

	assert.Equal(t, fx.session.Save(context.Background()), nil)
	sent := fx.sender.sent()
	assert.Equal(t, len(sent), 1)
	tx, err := wfst.ParseTransaction(sent[0])
	assert.Equal(t, err, nil)
	assert.Equal(t, len(tx.Operations), 1)
	assert.Equal(t, tx.Operations[0].Action, wfst.Insert)
	assert.Equal(t, fx.buffer.Len(), 0)
	assert.Equal(t, fx.session.State(), Selected)
}
