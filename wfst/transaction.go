package wfst

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Filter 服务端支持的过滤条件：属性相等或 FeatureId
type Filter struct {
	PropertyName string
	Literal      string
	FeatureIDs   []string
}

// Operation 事务中的单个操作
type Operation struct {
	Action   Action
	TypeName string

	// insert
	Feature *geojson.Feature

	// update
	GeometryName string
	Geometry     orb.Geometry
	Properties   map[string]interface{}

	// update / delete
	Filter *Filter
}

// Transaction 解析后的事务请求
type Transaction struct {
	Handle     string
	Operations []Operation
}

// ParseValue 将文本属性还原为值：JSON 数组/对象解码，其余保持字符串
func ParseValue(s string) interface{} {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
		var v interface{}
		if err := json.Unmarshal([]byte(t), &v); err == nil {
			return v
		}
	}
	return s
}

func parseFilter(n *node) (*Filter, error) {
	if n == nil {
		return nil, fmt.Errorf("missing ogc:Filter")
	}
	if eq := n.child("PropertyIsEqualTo"); eq != nil {
		name := eq.child("PropertyName")
		lit := eq.child("Literal")
		if name == nil || lit == nil {
			return nil, fmt.Errorf("PropertyIsEqualTo needs PropertyName and Literal")
		}
		return &Filter{PropertyName: name.text(), Literal: lit.text()}, nil
	}
	ids := n.children("FeatureId")
	ids = append(ids, n.children("GmlObjectId")...)
	if len(ids) > 0 {
		f := &Filter{}
		for _, id := range ids {
			fid := id.attr("fid")
			if fid == "" {
				fid = id.attr("id")
			}
			f.FeatureIDs = append(f.FeatureIDs, fid)
		}
		return f, nil
	}
	return nil, fmt.Errorf("unsupported filter")
}

// parseFeature 解析 Insert 下的要素元素，包含几何的子元素作为几何，其余作为属性
func parseFeature(n *node) (*geojson.Feature, string, error) {
	f := geojson.NewFeature(nil)
	var geomName string
	for i := range n.Nodes {
		child := &n.Nodes[i]
		if g := child.findGeometry(); g != nil {
			geom, err := g.geometry()
			if err != nil {
				return nil, "", fmt.Errorf("%s: %w", child.XMLName.Local, err)
			}
			f.Geometry = geom
			geomName = child.XMLName.Local
			continue
		}
		f.Properties[child.XMLName.Local] = ParseValue(child.Content)
	}
	if f.Geometry == nil {
		return nil, "", fmt.Errorf("feature %s has no geometry", n.XMLName.Local)
	}
	return f, geomName, nil
}

// ParseTransaction 解析 WFS-T 事务请求体
func ParseTransaction(body []byte) (*Transaction, error) {
	var root node
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, &ProtocolError{Reason: "transaction", Err: err}
	}
	if root.XMLName.Local != "Transaction" {
		return nil, &ProtocolError{Reason: "unexpected root element " + root.XMLName.Local}
	}
	tx := &Transaction{Handle: root.attr("handle")}
	for i := range root.Nodes {
		n := &root.Nodes[i]
		typeName := n.attr("typeName")
		switch n.XMLName.Local {
		case "Insert":
			for j := range n.Nodes {
				f, _, err := parseFeature(&n.Nodes[j])
				if err != nil {
					return nil, &ProtocolError{Reason: "insert", Err: err}
				}
				name := typeName
				if name == "" {
					name = n.Nodes[j].XMLName.Local
				}
				tx.Operations = append(tx.Operations, Operation{Action: Insert, TypeName: name, Feature: f})
			}
		case "Update":
			op := Operation{Action: Update, TypeName: typeName, Properties: map[string]interface{}{}}
			for _, p := range n.children("Property") {
				name := p.child("Name")
				if name == nil {
					return nil, &ProtocolError{Reason: "update property without Name"}
				}
				propName := name.text()
				if i := strings.Index(propName, ":"); i >= 0 {
					propName = propName[i+1:]
				}
				value := p.child("Value")
				if value == nil {
					op.Properties[propName] = nil
					continue
				}
				if g := value.findGeometry(); g != nil {
					geom, err := g.geometry()
					if err != nil {
						return nil, &ProtocolError{Reason: "update geometry", Err: err}
					}
					op.GeometryName = propName
					op.Geometry = geom
					continue
				}
				op.Properties[propName] = ParseValue(value.Content)
			}
			filter, err := parseFilter(n.child("Filter"))
			if err != nil {
				return nil, &ProtocolError{Reason: "update", Err: err}
			}
			op.Filter = filter
			tx.Operations = append(tx.Operations, op)
		case "Delete":
			filter, err := parseFilter(n.child("Filter"))
			if err != nil {
				return nil, &ProtocolError{Reason: "delete", Err: err}
			}
			tx.Operations = append(tx.Operations, Operation{Action: Delete, TypeName: typeName, Filter: filter})
		case "Native":
		default:
			return nil, &ProtocolError{Reason: "unsupported operation " + n.XMLName.Local}
		}
	}
	return tx, nil
}

// EncodeResult 输出 WFS 1.0.0 事务响应
func EncodeResult(r *Result) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	w := &xmlWriter{enc: xml.NewEncoder(&buf)}
	w.start("wfs:WFS_TransactionResponse",
		attr("version", "1.0.0"),
		attr("xmlns:wfs", nsWFS),
		attr("xmlns:ogc", nsOGC),
	)
	if len(r.InsertedIDs) > 0 {
		w.start("wfs:InsertResult")
		for _, id := range r.InsertedIDs {
			w.start("ogc:FeatureId", attr("fid", id))
			w.end("ogc:FeatureId")
		}
		w.end("wfs:InsertResult")
	}
	w.start("wfs:TransactionResult")
	w.start("wfs:Status")
	status := "wfs:SUCCESS"
	if !r.Success {
		status = "wfs:FAILED"
	}
	w.start(status)
	w.end(status)
	w.end("wfs:Status")
	if r.Message != "" {
		w.element("wfs:Message", r.Message)
	}
	w.end("wfs:TransactionResult")
	w.end("wfs:WFS_TransactionResponse")
	if w.err == nil {
		w.err = w.enc.Flush()
	}
	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

// EncodeException 输出 ServiceExceptionReport，用于无法解析的请求
func EncodeException(code, message string) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	w := &xmlWriter{enc: xml.NewEncoder(&buf)}
	w.start("ServiceExceptionReport", attr("version", "1.2.0"))
	w.start("ServiceException", attr("code", code))
	w.text(message)
	w.end("ServiceException")
	w.end("ServiceExceptionReport")
	if w.err == nil {
		w.err = w.enc.Flush()
	}
	return buf.Bytes()
}
