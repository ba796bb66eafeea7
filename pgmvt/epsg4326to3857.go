package pgmvt

import "math"

// Web 墨卡托有效纬度
const maxLatitude = 85.05112878

func lonlat2mercator(lon float64, lat float64) (float64, float64) {
	semimajor_axis := 6378137.0
	x := semimajor_axis * (math.Pi / 180) * lon
	y := semimajor_axis * math.Log(math.Tan((math.Pi/4)+((math.Pi/180)*lat/2)))
	return x, y
}

func epsg4326_to_epsg3857(lon float64, lat float64) (float64, float64) {
	lat = math.Max(-maxLatitude, math.Min(maxLatitude, lat))
	return lonlat2mercator(lon, lat)
}

func Epsg3857_to_epsg4326(x float64, y float64) (float64, float64) {
	r_major := 6378137.0
	lon := x / r_major * 180.0 / math.Pi
	lat := math.Atan(math.Exp(y/r_major))*360.0/math.Pi - 90.0
	return lon, lat
}
