package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func writeFile(t *testing.T, name, body string) string {
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadXML(t *testing.T) {
	path := writeFile(t, "config.xml", `<config>
  <MainRouter>:9000</MainRouter>
  <driver>postgres</driver>
  <host>db</host>
  <user>gis</user>
  <password>secret</password>
  <dbname>barrios</dbname>
  <wfs>http://localhost:8080/geoserver/wfs</wfs>
  <key>codigo</key>
</config>`)

	cfg, err := Load(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.MainRouter, ":9000")
	assert.Equal(t, cfg.Driver, "postgres")
	assert.Equal(t, cfg.DSN(), "host=db user=gis password=secret dbname=barrios port=5432 sslmode=disable TimeZone=UTC")
	assert.Equal(t, cfg.WFSOptions().KeyAttribute, "codigo")
	assert.Equal(t, cfg.WFSOptions().TypeName, "geosolution:barrios")
	assert.Equal(t, cfg.RequestTimeout(), 30*time.Second)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
listen: ":8500"
sqlite: /tmp/edit.db
typename: lima:distritos
timeout: 5
`)
	cfg, err := Load(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.MainRouter, ":8500")
	assert.Equal(t, cfg.Driver, "sqlite")
	assert.Equal(t, cfg.SQLite, "/tmp/edit.db")
	assert.Equal(t, cfg.TypeName, "lima:distritos")
	assert.Equal(t, cfg.KeyAttribute, "nombre")
	assert.Equal(t, cfg.RequestTimeout(), 5*time.Second)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.xml"))
	assert.NotEqual(t, err, nil)

	_, err = Load(writeFile(t, "bad.xml", "<config><host>"))
	assert.NotEqual(t, err, nil)
}
