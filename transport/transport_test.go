package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-playground/assert/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/GrainArc/GeoEdit/wfst"
)

const successResponse = `<wfs:WFS_TransactionResponse xmlns:wfs="http://www.opengis.net/wfs" xmlns:ogc="http://www.opengis.net/ogc">
<wfs:InsertResult><ogc:FeatureId fid="barrios.1"/></wfs:InsertResult>
<wfs:TransactionResult><wfs:Status><wfs:SUCCESS/></wfs:Status></wfs:TransactionResult>
</wfs:WFS_TransactionResponse>`

func TestWFSSend(t *testing.T) {
	var calls int32
	got := make(chan [2]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		b, _ := io.ReadAll(r.Body)
		got <- [2]string{r.Header.Get("Content-Type"), string(b)}
		w.Write([]byte(successResponse))
	}))
	defer srv.Close()

	c := NewWFS(srv.URL, 5*time.Second)
	result, err := c.Send(context.Background(), []byte("<wfs:Transaction/>"))
	assert.Equal(t, err, nil)
	assert.Equal(t, result.InsertedIDs, []string{"barrios.1"})
	req := <-got
	assert.Equal(t, req[0], "text/xml")
	assert.Equal(t, req[1], "<wfs:Transaction/>")
	assert.Equal(t, atomic.LoadInt32(&calls), int32(1))
}

func TestWFSSendHTTPError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWFS(srv.URL, 5*time.Second).Send(context.Background(), []byte("x"))
	var httpErr *HTTPError
	assert.Equal(t, errors.As(err, &httpErr), true)
	assert.Equal(t, httpErr.Status, http.StatusServiceUnavailable)
	// 不重试
	assert.Equal(t, atomic.LoadInt32(&calls), int32(1))
}

func TestWFSSendNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewWFS(url, time.Second).Send(context.Background(), []byte("x"))
	var netErr *NetworkError
	assert.Equal(t, errors.As(err, &netErr), true)
}

func TestWFSSendForwardsCodecErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mode") == "rejected" {
			w.Write([]byte(`<ServiceExceptionReport><ServiceException code="x">nope</ServiceException></ServiceExceptionReport>`))
			return
		}
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	_, err := NewWFS(srv.URL, time.Second).Send(context.Background(), []byte("x"))
	var protocol *wfst.ProtocolError
	assert.Equal(t, errors.As(err, &protocol), true)

	_, err = NewWFS(srv.URL+"?mode=rejected", time.Second).Send(context.Background(), []byte("x"))
	var rejected *wfst.BackendRejected
	assert.Equal(t, errors.As(err, &rejected), true)
	assert.Equal(t, rejected.Message, "nope")
}

func TestFeatureAPI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/features/7", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","id":7,"geometry":{"type":"Point","coordinates":[1,2]},"properties":{"nombre":"Miraflores"}}]}`))
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			w.Write(b)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/features", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Write(b)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := NewFeatureAPI(srv.URL+"/", time.Second)
	ctx := context.Background()

	f, err := api.GetFeatureByID(ctx, "7")
	assert.Equal(t, err, nil)
	assert.Equal(t, f.Properties["nombre"], "Miraflores")
	assert.Equal(t, f.Geometry, orb.Point{1, 2})

	updated, err := api.UpdateFeature(ctx, "7", f)
	assert.Equal(t, err, nil)
	assert.Equal(t, updated.Properties["nombre"], "Miraflores")

	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{3, 4}))
	created, err := api.CreateFeatureCollection(ctx, fc)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(created.Features), 1)

	assert.Equal(t, api.DeleteFeature(ctx, "7"), nil)

	_, err = api.GetFeatureByID(ctx, "missing")
	var httpErr *HTTPError
	assert.Equal(t, errors.As(err, &httpErr), true)
	assert.Equal(t, httpErr.Status, http.StatusNotFound)
}

func TestFeatureAPIGetByKey(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("key")
		if query == "Surco" {
			w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
			return
		}
		w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","id":2,"geometry":{"type":"Point","coordinates":[1,2]},"properties":{"nombre":"San Isidro"}}]}`))
	}))
	defer srv.Close()
	api := NewFeatureAPI(srv.URL, time.Second)

	f, err := api.GetFeatureByKey(context.Background(), "San Isidro")
	assert.Equal(t, err, nil)
	assert.Equal(t, query, "San Isidro")
	assert.Equal(t, f.ID, 2.0)

	_, err = api.GetFeatureByKey(context.Background(), "Surco")
	var httpErr *HTTPError
	assert.Equal(t, errors.As(err, &httpErr), true)
	assert.Equal(t, httpErr.Status, http.StatusNotFound)
}

func TestFeatureAPIErrorKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/features/1":
			w.Write([]byte(`<html>proxy error</html>`))
		case "/features/2":
			w.Write([]byte(`{"type":"Point","coordinates":[1,2]}`))
		case "/features/3":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"duplicate key nombre"}`))
		case "/features/4":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`bad request`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"feature not found"}`))
		}
	}))
	defer srv.Close()
	api := NewFeatureAPI(srv.URL, time.Second)
	ctx := context.Background()
	f := geojson.NewFeature(orb.Point{1, 2})

	var protoErr *wfst.ProtocolError
	_, err := api.GetFeatureByID(ctx, "1")
	assert.Equal(t, errors.As(err, &protoErr), true)
	_, err = api.UpdateFeature(ctx, "2", f)
	assert.Equal(t, errors.As(err, &protoErr), true)
	_, err = api.ListFeatures(ctx)
	assert.Equal(t, errors.As(err, &protoErr), false)

	var rejected *wfst.BackendRejected
	_, err = api.UpdateFeature(ctx, "3", f)
	assert.Equal(t, errors.As(err, &rejected), true)
	assert.Equal(t, rejected.Code, "409")
	assert.Equal(t, rejected.Message, "duplicate key nombre")

	var httpErr *HTTPError
	err = api.DeleteFeature(ctx, "4")
	assert.Equal(t, errors.As(err, &httpErr), true)
	assert.Equal(t, httpErr.Status, http.StatusBadRequest)

	err = api.DeleteFeature(ctx, "5")
	assert.Equal(t, errors.As(err, &httpErr), true)
	assert.Equal(t, httpErr.Status, http.StatusNotFound)
	assert.Equal(t, errors.As(err, &rejected), false)
}

func TestTruncateBodyKeepsRunes(t *testing.T) {
	short := "límite"
	assert.Equal(t, truncateBody(short), short)

	long := strings.Repeat("a", maxErrorBody-1) + "ñandú"
	got := truncateBody(long)
	assert.Equal(t, utf8.ValidString(got), true)
	assert.Equal(t, got, strings.Repeat("a", maxErrorBody-1))
}

func TestGeoServerLayers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "geoserver" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"layers":{"layer":[{"name":"geosolution:barrios","href":"http://x/barrios.json"}]}}`))
	}))
	defer srv.Close()

	layers, err := NewGeoServer(srv.URL, "admin", "geoserver", time.Second).Layers(context.Background())
	assert.Equal(t, err, nil)
	assert.Equal(t, len(layers), 1)
	assert.Equal(t, layers[0].Name, "geosolution:barrios")

	_, err = NewGeoServer(srv.URL, "admin", "wrong", time.Second).Layers(context.Background())
	var httpErr *HTTPError
	assert.Equal(t, errors.As(err, &httpErr), true)
	assert.Equal(t, httpErr.Status, http.StatusUnauthorized)
}
