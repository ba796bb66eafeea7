package Transformer

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gitee.com/LJ_COOL/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var numericRegex = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// trimTrailingZeros DBF 数值字段右侧补零，去掉多余的零，小数最多保留 5 位
func trimTrailingZeros(input string) string {
	if !numericRegex.MatchString(input) || !strings.Contains(input, ".") {
		return input
	}
	parts := strings.SplitN(input, ".", 2)
	frac := strings.TrimRight(parts[1], "0")
	if frac == "" {
		return parts[0]
	}
	if len(frac) > 5 {
		frac = frac[:5]
	}
	return parts[0] + "." + frac
}

func SplitPoints(points []shp.Point, parts []int32) [][]shp.Point {
	var rings [][]shp.Point
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		rings = append(rings, points[start:end])
	}
	return rings
}

// IsClockwise shapefile 外环为顺时针，内环为逆时针
func IsClockwise(points []orb.Point) bool {
	sum := 0.0
	for i := 0; i < len(points)-1; i++ {
		p1 := points[i]
		p2 := points[i+1]
		sum += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return sum > 0
}

func toRing(points []shp.Point) orb.Ring {
	ring := make(orb.Ring, len(points))
	for i, p := range points {
		ring[i] = orb.Point{p.X, p.Y}
	}
	return ring
}

// polygonGeometry 按环方向分组：每个顺时针环开始一个新多边形，其后的逆时针环为它的洞
func polygonGeometry(points []shp.Point, parts []int32) (orb.Geometry, error) {
	var polygons orb.MultiPolygon
	for _, part := range SplitPoints(points, parts) {
		ring := toRing(part)
		if IsClockwise(ring) || len(polygons) == 0 {
			polygons = append(polygons, orb.Polygon{ring})
			continue
		}
		last := len(polygons) - 1
		polygons[last] = append(polygons[last], ring)
	}
	switch len(polygons) {
	case 0:
		return nil, fmt.Errorf("polygon without rings")
	case 1:
		return polygons[0], nil
	}
	return polygons, nil
}

func lineGeometry(points []shp.Point, parts []int32) orb.Geometry {
	var lines orb.MultiLineString
	for _, part := range SplitPoints(points, parts) {
		lines = append(lines, orb.LineString(toRing(part)))
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines
}

func shapeGeometry(s shp.Shape) (orb.Geometry, error) {
	switch s := s.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PolyLine:
		return lineGeometry(s.Points, s.Parts), nil
	case *shp.PolyLineZ:
		return lineGeometry(s.Points, s.Parts), nil
	case *shp.PolyLineM:
		return lineGeometry(s.Points, s.Parts), nil
	case *shp.Polygon:
		return polygonGeometry(s.Points, s.Parts)
	case *shp.PolygonZ:
		return polygonGeometry(s.Points, s.Parts)
	case *shp.PolygonM:
		return polygonGeometry(s.Points, s.Parts)
	}
	return nil, fmt.Errorf("unsupported shape type %T", s)
}

type shpRecord struct {
	geom  orb.Geometry
	attrs []string
}

// ShpToGeojson 读取 shapefile（同目录需有 .shx/.dbf）。
// 属性编码取 .cpg，没有 .cpg 时按内容检测，GBK 属性转为 UTF-8
func ShpToGeojson(path string) (*geojson.FeatureCollection, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer reader.Close()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00 ")
	}

	var records []shpRecord
	var sample bytes.Buffer
	for reader.Next() {
		n, s := reader.Shape()
		geom, err := shapeGeometry(s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", n, err)
		}
		attrs := make([]string, len(fields))
		for k := range fields {
			attrs[k] = strings.Trim(reader.ReadAttribute(n, k), "\x00 ")
			sample.WriteString(attrs[k])
		}
		records = append(records, shpRecord{geom: geom, attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read shapefile %s: %w", path, err)
	}

	charset := readCPGEncoding(path)
	if charset == "" {
		charset = detectCharset(sample.Bytes())
	}
	decode := func(s string) string { return s }
	if isGBK(charset) {
		decode = GbkToUtf8
	}

	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		feature := geojson.NewFeature(rec.geom)
		for k, value := range rec.attrs {
			feature.Properties[decode(names[k])] = trimTrailingZeros(decode(value))
		}
		fc.Append(feature)
	}
	return fc, nil
}
