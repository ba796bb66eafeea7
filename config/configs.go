package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GrainArc/GeoEdit/wfst"
)

var MainConfig = Default()

// Config 对应 config.xml（或 config.yaml）
type Config struct {
	XMLName xml.Name `xml:"config" yaml:"-"`
	// 服务监听地址
	MainRouter string `xml:"MainRouter" yaml:"listen"`

	// 数据库：driver 为 postgres 时使用 host/port/user/password/dbname，sqlite 时使用 path
	Driver   string `xml:"driver" yaml:"driver"`
	Host     string `xml:"host" yaml:"host"`
	Port     string `xml:"port" yaml:"port"`
	Username string `xml:"user" yaml:"user"`
	Password string `xml:"password" yaml:"password"`
	Dbname   string `xml:"dbname" yaml:"dbname"`
	SQLite   string `xml:"sqlite" yaml:"sqlite"`

	// 远端服务
	WFSURL        string `xml:"wfs" yaml:"wfs"`
	FeatureAPIURL string `xml:"featureapi" yaml:"featureapi"`
	GeoServerURL  string `xml:"geoserver" yaml:"geoserver"`
	GeoServerUser string `xml:"geoserveruser" yaml:"geoserveruser"`
	GeoServerPass string `xml:"geoserverpassword" yaml:"geoserverpassword"`
	Timeout       int    `xml:"timeout" yaml:"timeout"` // 秒

	// 要素类型
	TypeName     string `xml:"typename" yaml:"typename"`
	NamespaceURI string `xml:"namespace" yaml:"namespace"`
	GeometryName string `xml:"geometry" yaml:"geometry"`
	SRSName      string `xml:"srs" yaml:"srs"`
	KeyAttribute string `xml:"key" yaml:"key"`

	// 瓦片缓存
	TileTTL     int `xml:"tilettl" yaml:"tilettl"` // 秒
	TileMaxSize int `xml:"tilemax" yaml:"tilemax"`
}

func Default() Config {
	opts := wfst.DefaultOptions()
	return Config{
		MainRouter:   ":8426",
		Driver:       "sqlite",
		SQLite:       "geoedit.db",
		Port:         "5432",
		Timeout:      30,
		TypeName:     opts.TypeName,
		NamespaceURI: opts.NamespaceURI,
		GeometryName: opts.GeometryName,
		SRSName:      opts.SRSName,
		KeyAttribute: opts.KeyAttribute,
		TileTTL:      3600,
		TileMaxSize:  10000,
	}
}

// Load 读取配置文件，.yaml/.yml 按 YAML 解析，其余按 XML。缺省字段取默认值
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.NewDecoder(f).Decode(&cfg)
	default:
		err = xml.NewDecoder(f).Decode(&cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	cfg.fill()
	return cfg, nil
}

// fill 空字段回落到默认值
func (c *Config) fill() {
	d := Default()
	if c.MainRouter == "" {
		c.MainRouter = d.MainRouter
	}
	if c.Driver == "" {
		c.Driver = d.Driver
	}
	if c.SQLite == "" {
		c.SQLite = d.SQLite
	}
	if c.Port == "" {
		c.Port = d.Port
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.TypeName == "" {
		c.TypeName = d.TypeName
	}
	if c.NamespaceURI == "" {
		c.NamespaceURI = d.NamespaceURI
	}
	if c.GeometryName == "" {
		c.GeometryName = d.GeometryName
	}
	if c.SRSName == "" {
		c.SRSName = d.SRSName
	}
	if c.KeyAttribute == "" {
		c.KeyAttribute = d.KeyAttribute
	}
	if c.TileTTL <= 0 {
		c.TileTTL = d.TileTTL
	}
	if c.TileMaxSize <= 0 {
		c.TileMaxSize = d.TileMaxSize
	}
}

// DSN postgres 连接串
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC", c.Host, c.Username, c.Password, c.Dbname, c.Port)
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c Config) TileCacheTTL() time.Duration {
	return time.Duration(c.TileTTL) * time.Second
}

// WFSOptions 编码事务使用的要素类型参数
func (c Config) WFSOptions() wfst.Options {
	return wfst.Options{
		TypeName:     c.TypeName,
		NamespaceURI: c.NamespaceURI,
		GeometryName: c.GeometryName,
		SRSName:      c.SRSName,
		KeyAttribute: c.KeyAttribute,
	}
}
