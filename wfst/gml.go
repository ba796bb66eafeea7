package wfst

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// xmlWriter 包装 xml.Encoder，记录第一个错误，元素名直接写入前缀形式（wfs:Insert）
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func (w *xmlWriter) start(name string, attrs ...xml.Attr) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *xmlWriter) end(name string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *xmlWriter) text(s string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.CharData(s))
}

func (w *xmlWriter) element(name, value string, attrs ...xml.Attr) {
	w.start(name, attrs...)
	w.text(value)
	w.end(name)
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatCoordinates 按原有顺序输出 "x,y x,y"，不做任何投影转换
func formatCoordinates(points []orb.Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = formatFloat(p[0]) + "," + formatFloat(p[1])
	}
	return strings.Join(parts, " ")
}

func (w *xmlWriter) coordinates(points []orb.Point) {
	w.element("gml:coordinates", formatCoordinates(points))
}

func (w *xmlWriter) polygon(p orb.Polygon, srs []xml.Attr) {
	w.start("gml:Polygon", srs...)
	for i, ring := range p {
		boundary := "gml:innerBoundaryIs"
		if i == 0 {
			boundary = "gml:outerBoundaryIs"
		}
		w.start(boundary)
		w.start("gml:LinearRing")
		w.coordinates(ring)
		w.end("gml:LinearRing")
		w.end(boundary)
	}
	w.end("gml:Polygon")
}

// geometry 写出 GML2 几何，首环为外环
func (w *xmlWriter) geometry(g orb.Geometry, srsName string) error {
	var srs []xml.Attr
	if srsName != "" {
		srs = []xml.Attr{attr("srsName", srsName)}
	}
	switch geom := g.(type) {
	case orb.Point:
		w.start("gml:Point", srs...)
		w.coordinates([]orb.Point{geom})
		w.end("gml:Point")
	case orb.LineString:
		if len(geom) < 2 {
			return fmt.Errorf("linestring needs at least 2 points, got %d", len(geom))
		}
		w.start("gml:LineString", srs...)
		w.coordinates(geom)
		w.end("gml:LineString")
	case orb.Polygon:
		if len(geom) == 0 || len(geom[0]) < 4 {
			return fmt.Errorf("polygon outer ring needs at least 4 points")
		}
		w.polygon(geom, srs)
	case orb.MultiPoint:
		w.start("gml:MultiPoint", srs...)
		for _, p := range geom {
			w.start("gml:pointMember")
			w.start("gml:Point")
			w.coordinates([]orb.Point{p})
			w.end("gml:Point")
			w.end("gml:pointMember")
		}
		w.end("gml:MultiPoint")
	case orb.MultiLineString:
		w.start("gml:MultiLineString", srs...)
		for _, ls := range geom {
			w.start("gml:lineStringMember")
			w.start("gml:LineString")
			w.coordinates(ls)
			w.end("gml:LineString")
			w.end("gml:lineStringMember")
		}
		w.end("gml:MultiLineString")
	case orb.MultiPolygon:
		w.start("gml:MultiPolygon", srs...)
		for _, p := range geom {
			w.start("gml:polygonMember")
			w.polygon(p, nil)
			w.end("gml:polygonMember")
		}
		w.end("gml:MultiPolygon")
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
	return nil
}

// parseCoordinates 解析 gml:coordinates，默认 cs="," ts=" "
func parseCoordinates(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	points := make([]orb.Point, 0, len(fields))
	for _, tuple := range fields {
		xy := strings.Split(tuple, ",")
		if len(xy) < 2 {
			return nil, fmt.Errorf("bad coordinate tuple %q", tuple)
		}
		x, err := strconv.ParseFloat(xy[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad x in %q: %w", tuple, err)
		}
		y, err := strconv.ParseFloat(xy[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad y in %q: %w", tuple, err)
		}
		points = append(points, orb.Point{x, y})
	}
	return points, nil
}

// parsePosList 解析 GML3 的 gml:posList / gml:pos
func parsePosList(s string) ([]orb.Point, error) {
	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("odd number of ordinates in posList")
	}
	points := make([]orb.Point, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		x, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, err
		}
		points = append(points, orb.Point{x, y})
	}
	return points, nil
}

// node 通用 XML 节点，用于服务端解析事务请求
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n *node) child(local string) *node {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *node) children(local string) []*node {
	var out []*node
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

func (n *node) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func (n *node) text() string {
	return strings.TrimSpace(n.Content)
}

var geometryElements = map[string]bool{
	"Point": true, "LineString": true, "Polygon": true,
	"MultiPoint": true, "MultiLineString": true, "MultiPolygon": true,
	"MultiCurve": true, "MultiSurface": true, "Surface": true, "Curve": true,
}

// findGeometry 返回节点下的第一个几何元素
func (n *node) findGeometry() *node {
	for i := range n.Nodes {
		if geometryElements[n.Nodes[i].XMLName.Local] {
			return &n.Nodes[i]
		}
	}
	return nil
}

func (n *node) points() ([]orb.Point, error) {
	if c := n.child("coordinates"); c != nil {
		return parseCoordinates(c.text())
	}
	if c := n.child("posList"); c != nil {
		return parsePosList(c.text())
	}
	if c := n.child("pos"); c != nil {
		return parsePosList(c.text())
	}
	return nil, fmt.Errorf("%s has no coordinates", n.XMLName.Local)
}

func (n *node) ring() (orb.Ring, error) {
	lr := n.child("LinearRing")
	if lr == nil {
		return nil, fmt.Errorf("%s has no LinearRing", n.XMLName.Local)
	}
	pts, err := lr.points()
	if err != nil {
		return nil, err
	}
	return orb.Ring(pts), nil
}

func (n *node) polygon() (orb.Polygon, error) {
	var p orb.Polygon
	outer := n.child("outerBoundaryIs")
	if outer == nil {
		outer = n.child("exterior")
	}
	if outer == nil {
		return nil, fmt.Errorf("polygon has no outer boundary")
	}
	r, err := outer.ring()
	if err != nil {
		return nil, err
	}
	p = append(p, r)
	inners := n.children("innerBoundaryIs")
	inners = append(inners, n.children("interior")...)
	for _, in := range inners {
		r, err := in.ring()
		if err != nil {
			return nil, err
		}
		p = append(p, r)
	}
	return p, nil
}

// memberGeometries 取多几何成员（pointMember、polygonMember 等）下的子几何
func (n *node) memberGeometries() ([]orb.Geometry, error) {
	var out []orb.Geometry
	for i := range n.Nodes {
		m := &n.Nodes[i]
		if !strings.HasSuffix(m.XMLName.Local, "Member") && !strings.HasSuffix(m.XMLName.Local, "Members") {
			continue
		}
		for j := range m.Nodes {
			g, err := m.Nodes[j].geometry()
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
	}
	return out, nil
}

func (n *node) geometry() (orb.Geometry, error) {
	switch n.XMLName.Local {
	case "Point":
		pts, err := n.points()
		if err != nil {
			return nil, err
		}
		if len(pts) != 1 {
			return nil, fmt.Errorf("point has %d coordinates", len(pts))
		}
		return pts[0], nil
	case "LineString", "Curve":
		pts, err := n.points()
		if err != nil {
			return nil, err
		}
		return orb.LineString(pts), nil
	case "Polygon", "Surface":
		return n.polygon()
	case "MultiPoint":
		members, err := n.memberGeometries()
		if err != nil {
			return nil, err
		}
		var mp orb.MultiPoint
		for _, g := range members {
			p, ok := g.(orb.Point)
			if !ok {
				return nil, fmt.Errorf("multipoint member is %T", g)
			}
			mp = append(mp, p)
		}
		return mp, nil
	case "MultiLineString", "MultiCurve":
		members, err := n.memberGeometries()
		if err != nil {
			return nil, err
		}
		var mls orb.MultiLineString
		for _, g := range members {
			ls, ok := g.(orb.LineString)
			if !ok {
				return nil, fmt.Errorf("multilinestring member is %T", g)
			}
			mls = append(mls, ls)
		}
		return mls, nil
	case "MultiPolygon", "MultiSurface":
		members, err := n.memberGeometries()
		if err != nil {
			return nil, err
		}
		var mp orb.MultiPolygon
		for _, g := range members {
			p, ok := g.(orb.Polygon)
			if !ok {
				return nil, fmt.Errorf("multipolygon member is %T", g)
			}
			mp = append(mp, p)
		}
		return mp, nil
	}
	return nil, fmt.Errorf("unsupported geometry element %s", n.XMLName.Local)
}
