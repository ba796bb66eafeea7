package Transformer

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type kmlFile struct {
	XMLName  xml.Name  `xml:"kml"`
	Document container `xml:"Document"`
}

// container Document 与 Folder 结构相同，Folder 可以嵌套
type container struct {
	Name      string      `xml:"name"`
	Folder    []container `xml:"Folder"`
	Placemark []placemark `xml:"Placemark"`
}

type placemark struct {
	ID            string         `xml:"id,attr"`
	Name          string         `xml:"name"`
	Description   string         `xml:"description"`
	ExtendedData  extendedData   `xml:"ExtendedData"`
	Point         *kmlPoint      `xml:"Point"`
	LineString    *kmlLineString `xml:"LineString"`
	Polygon       *kmlPolygon    `xml:"Polygon"`
	MultiGeometry *multiGeometry `xml:"MultiGeometry"`
}

type simpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type extendedData struct {
	SimpleData []simpleData `xml:"SchemaData>SimpleData"`
	Data       []data       `xml:"Data"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLineString struct {
	Coordinates string `xml:"coordinates"`
}

type linearRing struct {
	Coordinates string `xml:"LinearRing>coordinates"`
}

type kmlPolygon struct {
	OuterBoundaryIs linearRing   `xml:"outerBoundaryIs"`
	InnerBoundaryIs []linearRing `xml:"innerBoundaryIs"`
}

type multiGeometry struct {
	Polygons   []kmlPolygon    `xml:"Polygon"`
	LineString []kmlLineString `xml:"LineString"`
	Point      []kmlPoint      `xml:"Point"`
}

// StringToCoords "lon,lat[,alt] lon,lat[,alt] ..." 转坐标，忽略高程
func StringToCoords(coords string) ([]orb.Point, error) {
	var out []orb.Point
	for _, tuple := range strings.Fields(coords) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid coordinate %q", tuple)
		}
		x, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %w", tuple, err)
		}
		y, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %w", tuple, err)
		}
		out = append(out, orb.Point{x, y})
	}
	return out, nil
}

func (p *kmlPolygon) geometry() (orb.Polygon, error) {
	outer, err := StringToCoords(p.OuterBoundaryIs.Coordinates)
	if err != nil {
		return nil, err
	}
	rings := []orb.Ring{outer}
	for _, inner := range p.InnerBoundaryIs {
		ring, err := StringToCoords(inner.Coordinates)
		if err != nil {
			return nil, err
		}
		rings = append(rings, ring)
	}
	return orb.Polygon(rings), nil
}

func pointGeometry(coords string) (orb.Point, error) {
	pts, err := StringToCoords(coords)
	if err != nil {
		return orb.Point{}, err
	}
	if len(pts) != 1 {
		return orb.Point{}, fmt.Errorf("point needs exactly one coordinate, got %d", len(pts))
	}
	return pts[0], nil
}

// geometries 一个 Placemark 可能带多个几何，每个几何生成一个要素
func (p *placemark) geometries() ([]orb.Geometry, error) {
	var out []orb.Geometry
	if p.Point != nil {
		pt, err := pointGeometry(p.Point.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	if p.LineString != nil {
		line, err := StringToCoords(p.LineString.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, orb.LineString(line))
	}
	if p.Polygon != nil {
		poly, err := p.Polygon.geometry()
		if err != nil {
			return nil, err
		}
		out = append(out, poly)
	}
	if m := p.MultiGeometry; m != nil {
		for _, pt := range m.Point {
			g, err := pointGeometry(pt.Coordinates)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		for _, l := range m.LineString {
			line, err := StringToCoords(l.Coordinates)
			if err != nil {
				return nil, err
			}
			out = append(out, orb.LineString(line))
		}
		for i := range m.Polygons {
			poly, err := m.Polygons[i].geometry()
			if err != nil {
				return nil, err
			}
			out = append(out, poly)
		}
	}
	return out, nil
}

func (p *placemark) properties() geojson.Properties {
	attrs := geojson.Properties{}
	for _, d := range p.ExtendedData.SimpleData {
		attrs[d.Name] = strings.TrimSpace(d.Value)
	}
	for _, d := range p.ExtendedData.Data {
		attrs[d.Name] = strings.TrimSpace(d.Value)
	}
	if p.Name != "" {
		attrs["kml_name"] = strings.TrimSpace(p.Name)
	}
	return attrs
}

func (c *container) collect(fc *geojson.FeatureCollection) error {
	for i := range c.Placemark {
		p := &c.Placemark[i]
		geoms, err := p.geometries()
		if err != nil {
			return fmt.Errorf("placemark %q: %w", p.Name, err)
		}
		for _, g := range geoms {
			feature := geojson.NewFeature(g)
			feature.Properties = p.properties()
			fc.Append(feature)
		}
	}
	for i := range c.Folder {
		if err := c.Folder[i].collect(fc); err != nil {
			return err
		}
	}
	return nil
}

// KmlToGeojson 解析 KML，Document 与各级 Folder 中的 Placemark 都会读取
func KmlToGeojson(r io.Reader) (*geojson.FeatureCollection, error) {
	var kml kmlFile
	if err := xml.NewDecoder(r).Decode(&kml); err != nil {
		return nil, fmt.Errorf("failed to parse kml: %w", err)
	}
	fc := geojson.NewFeatureCollection()
	if err := kml.Document.collect(fc); err != nil {
		return nil, err
	}
	return fc, nil
}
