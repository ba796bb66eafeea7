package wfst

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb/geojson"
)

// Action 事务动作
type Action string

const (
	Insert Action = "insert"
	Update Action = "update"
	Delete Action = "delete"
)

const (
	nsWFS = "http://www.opengis.net/wfs"
	nsGML = "http://www.opengis.net/gml"
	nsOGC = "http://www.opengis.net/ogc"
)

// Options 描述目标要素类型
type Options struct {
	TypeName     string // 带前缀的要素类型，如 geosolution:barrios
	NamespaceURI string // 前缀对应的命名空间
	GeometryName string
	SRSName      string
	KeyAttribute string // 用于更新/删除过滤的自然键字段
	Handle       string // 可选，写入 Transaction 的 handle 属性
}

// DefaultOptions 与 GeoServer 示例工作空间一致
func DefaultOptions() Options {
	return Options{
		TypeName:     "geosolution:barrios",
		NamespaceURI: "geosolution",
		GeometryName: "geom",
		SRSName:      "EPSG:4326",
		KeyAttribute: "nombre",
	}
}

func (o Options) prefix() string {
	if i := strings.Index(o.TypeName, ":"); i > 0 {
		return o.TypeName[:i]
	}
	return ""
}

func (o Options) qualify(local string) string {
	if p := o.prefix(); p != "" {
		return p + ":" + local
	}
	return local
}

func (o Options) featureElement() string {
	return o.TypeName
}

// KeyValue 取要素的自然键值，缺失或为空时返回 false
func KeyValue(f *geojson.Feature, keyAttribute string) (string, bool) {
	if f == nil || f.Properties == nil || keyAttribute == "" {
		return "", false
	}
	v, ok := f.Properties[keyAttribute]
	if !ok || v == nil {
		return "", false
	}
	s := FormatValue(v)
	if s == "" {
		return "", false
	}
	return s, true
}

// FormatValue 属性值转文本；数组（如 line-dasharray）以 JSON 形式输出
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func sortedKeys(props geojson.Properties) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode 将单个要素编码为 WFS-T 1.0.0 事务请求
func Encode(f *geojson.Feature, action Action, opts Options) ([]byte, error) {
	return encode(action, opts, []*geojson.Feature{f})
}

// EncodeInserts 将多个新绘制要素编码为一个事务，每个要素一个 Insert
func EncodeInserts(features []*geojson.Feature, opts Options) ([]byte, error) {
	if len(features) == 0 {
		return nil, &EncodingError{Action: Insert, Reason: "no features"}
	}
	return encode(Insert, opts, features)
}

func validate(f *geojson.Feature, action Action, opts Options) error {
	if f == nil {
		return &EncodingError{Action: action, Reason: "feature is nil"}
	}
	// delete 同样要求几何，未加载完整的要素不允许提交
	if f.Geometry == nil {
		return &EncodingError{Action: action, Reason: "feature has no geometry"}
	}
	if action == Update || action == Delete {
		if _, ok := KeyValue(f, opts.KeyAttribute); !ok {
			return &EncodingError{Action: action, Reason: fmt.Sprintf("feature has no %q key attribute", opts.KeyAttribute)}
		}
	}
	names := []string{opts.GeometryName, opts.KeyAttribute}
	if action != Delete {
		names = append(names, sortedKeys(f.Properties)...)
	}
	for _, name := range names {
		if !isNCName(name) {
			return &EncodingError{Action: action, Reason: fmt.Sprintf("%q is not a valid property name", name)}
		}
	}
	return nil
}

// isNCName 属性名会作为 XML 元素名（加命名空间前缀）写出，必须是不含冒号的 XML 名称
func isNCName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)):
		default:
			return false
		}
	}
	return true
}

func encode(action Action, opts Options, features []*geojson.Feature) ([]byte, error) {
	switch action {
	case Insert, Update, Delete:
	default:
		return nil, &EncodingError{Action: action, Reason: "unknown action"}
	}
	if opts.TypeName == "" {
		return nil, &EncodingError{Action: action, Reason: "no feature type name"}
	}
	for _, f := range features {
		if err := validate(f, action, opts); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	w := &xmlWriter{enc: xml.NewEncoder(&buf)}
	attrs := []xml.Attr{
		attr("service", "WFS"),
		attr("version", "1.0.0"),
		attr("xmlns:wfs", nsWFS),
		attr("xmlns:gml", nsGML),
		attr("xmlns:ogc", nsOGC),
	}
	if p := opts.prefix(); p != "" {
		ns := opts.NamespaceURI
		if ns == "" {
			ns = p
		}
		attrs = append(attrs, attr("xmlns:"+p, ns))
	}
	if opts.Handle != "" {
		attrs = append(attrs, attr("handle", opts.Handle))
	}
	w.start("wfs:Transaction", attrs...)
	for _, f := range features {
		var err error
		switch action {
		case Insert:
			err = w.insert(f, opts)
		case Update:
			err = w.update(f, opts)
		case Delete:
			w.delete(f, opts)
		}
		if err != nil {
			return nil, &EncodingError{Action: action, Reason: err.Error()}
		}
	}
	w.end("wfs:Transaction")
	if w.err == nil {
		w.err = w.enc.Flush()
	}
	if w.err != nil {
		return nil, &EncodingError{Action: action, Reason: w.err.Error()}
	}
	return buf.Bytes(), nil
}

func (w *xmlWriter) insert(f *geojson.Feature, opts Options) error {
	w.start("wfs:Insert", attr("typeName", opts.TypeName))
	w.start(opts.featureElement())
	geomName := opts.qualify(opts.GeometryName)
	w.start(geomName)
	if err := w.geometry(f.Geometry, opts.SRSName); err != nil {
		return err
	}
	w.end(geomName)
	for _, k := range sortedKeys(f.Properties) {
		if k == opts.GeometryName {
			continue
		}
		w.element(opts.qualify(k), FormatValue(f.Properties[k]))
	}
	w.end(opts.featureElement())
	w.end("wfs:Insert")
	return nil
}

func (w *xmlWriter) update(f *geojson.Feature, opts Options) error {
	key, _ := KeyValue(f, opts.KeyAttribute)
	w.start("wfs:Update", attr("typeName", opts.TypeName))
	w.start("wfs:Property")
	w.element("wfs:Name", opts.GeometryName)
	w.start("wfs:Value")
	if err := w.geometry(f.Geometry, opts.SRSName); err != nil {
		return err
	}
	w.end("wfs:Value")
	w.end("wfs:Property")
	for _, k := range sortedKeys(f.Properties) {
		if k == opts.KeyAttribute || k == opts.GeometryName {
			continue
		}
		w.start("wfs:Property")
		w.element("wfs:Name", k)
		w.element("wfs:Value", FormatValue(f.Properties[k]))
		w.end("wfs:Property")
	}
	w.filter(opts.KeyAttribute, key)
	w.end("wfs:Update")
	return nil
}

func (w *xmlWriter) delete(f *geojson.Feature, opts Options) {
	key, _ := KeyValue(f, opts.KeyAttribute)
	w.start("wfs:Delete", attr("typeName", opts.TypeName))
	w.filter(opts.KeyAttribute, key)
	w.end("wfs:Delete")
}

func (w *xmlWriter) filter(property, literal string) {
	w.start("ogc:Filter")
	w.start("ogc:PropertyIsEqualTo")
	w.element("ogc:PropertyName", property)
	w.element("ogc:Literal", literal)
	w.end("ogc:PropertyIsEqualTo")
	w.end("ogc:Filter")
}
