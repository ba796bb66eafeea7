package session

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/GrainArc/GeoEdit/wfst"
)

// Backend 持久化后端。selected 为当前选中要素（携带自然键），edited 为缓冲区中的新几何
type Backend interface {
	Insert(ctx context.Context, features []*geojson.Feature) error
	Update(ctx context.Context, selected, edited *geojson.Feature) error
	Delete(ctx context.Context, selected *geojson.Feature) error
}

// Sender 发送 WFS-T 事务，transport.WFS 实现该接口
type Sender interface {
	Send(ctx context.Context, body []byte) (*wfst.Result, error)
}

// WFSBackend 通过 WFS-T XML 持久化
type WFSBackend struct {
	Sender  Sender
	Options wfst.Options
}

func (b *WFSBackend) options() wfst.Options {
	opts := b.Options
	opts.Handle = ulid.Make().String()
	return opts
}

func (b *WFSBackend) send(ctx context.Context, body []byte, err error) error {
	if err != nil {
		return err
	}
	_, err = b.Sender.Send(ctx, body)
	return err
}

func (b *WFSBackend) Insert(ctx context.Context, features []*geojson.Feature) error {
	body, err := wfst.EncodeInserts(features, b.options())
	return b.send(ctx, body, err)
}

func (b *WFSBackend) Update(ctx context.Context, selected, edited *geojson.Feature) error {
	opts := b.options()
	// 过滤条件使用选中要素存储的键值，而不是缓冲区里可能被修改的值
	if key, ok := wfst.KeyValue(selected, opts.KeyAttribute); ok {
		edited.Properties[opts.KeyAttribute] = key
	} else {
		delete(edited.Properties, opts.KeyAttribute)
	}
	body, err := wfst.Encode(edited, wfst.Update, opts)
	return b.send(ctx, body, err)
}

func (b *WFSBackend) Delete(ctx context.Context, selected *geojson.Feature) error {
	body, err := wfst.Encode(selected, wfst.Delete, b.options())
	return b.send(ctx, body, err)
}

// FeatureService REST 要素接口，transport.FeatureAPI 实现该接口
type FeatureService interface {
	CreateFeatureCollection(ctx context.Context, fc *geojson.FeatureCollection) (*geojson.FeatureCollection, error)
	UpdateFeature(ctx context.Context, id string, f *geojson.Feature) (*geojson.Feature, error)
	DeleteFeature(ctx context.Context, id string) error
}

// RESTBackend 通过 REST 要素服务持久化，更新和删除按记录 id 定位
type RESTBackend struct {
	API FeatureService
}

// BackendID 后端记录 id：要素 id，其次 properties.id。自然键不能代替记录 id
func BackendID(f *geojson.Feature) (string, bool) {
	if f == nil {
		return "", false
	}
	if f.ID != nil {
		if s := wfst.FormatValue(f.ID); s != "" {
			return s, true
		}
	}
	return wfst.KeyValue(f, "id")
}

func (b *RESTBackend) Insert(ctx context.Context, features []*geojson.Feature) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	_, err := b.API.CreateFeatureCollection(ctx, fc)
	return err
}

func (b *RESTBackend) Update(ctx context.Context, selected, edited *geojson.Feature) error {
	id, ok := BackendID(selected)
	if !ok {
		return &wfst.EncodingError{Action: wfst.Update, Reason: "selected feature has no backend id"}
	}
	if edited.Geometry == nil {
		return &wfst.EncodingError{Action: wfst.Update, Reason: "feature has no geometry"}
	}
	edited.ID = selected.ID
	_, err := b.API.UpdateFeature(ctx, id, edited)
	return err
}

func (b *RESTBackend) Delete(ctx context.Context, selected *geojson.Feature) error {
	id, ok := BackendID(selected)
	if !ok {
		return &wfst.EncodingError{Action: wfst.Delete, Reason: "selected feature has no backend id"}
	}
	return b.API.DeleteFeature(ctx, id)
}
