package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/GrainArc/GeoEdit/config"
	"github.com/GrainArc/GeoEdit/methods"
	"github.com/GrainArc/GeoEdit/models"
	"github.com/GrainArc/GeoEdit/routers"
	"github.com/GrainArc/GeoEdit/tile_proxy"
	"github.com/GrainArc/GeoEdit/transport"
	"github.com/GrainArc/GeoEdit/views"
)

// ServeCommand `serve` 命令参数
type ServeCommand struct {
	Config string `short:"c" long:"config" description:"config file (.xml or .yaml)" value-name:"<FILE>" default:"config.xml"`
	Listen string `short:"l" long:"listen" description:"override the listen address" value-name:"<ADDR>"`
}

func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
		return config.Default(), nil
	}
	return config.Load(path)
}

func (command *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig(command.Config)
	if err != nil {
		return err
	}
	if command.Listen != "" {
		cfg.MainRouter = command.Listen
	}
	config.MainConfig = cfg

	dsn := cfg.SQLite
	if cfg.Driver == "postgres" {
		dsn = cfg.DSN()
	}
	if err := models.InitDB(cfg.Driver, dsn); err != nil {
		return err
	}

	cache := tile_proxy.NewTileCache(cfg.TileMaxSize, cfg.TileCacheTTL())
	defer cache.Close()
	hub := views.NewHub()
	defer hub.Close()

	var geoserver *transport.GeoServer
	var tiles *tile_proxy.TileProxyService
	if cfg.GeoServerURL != "" {
		geoserver = transport.NewGeoServer(cfg.GeoServerURL, cfg.GeoServerUser, cfg.GeoServerPass, cfg.RequestTimeout())
		tiles = tile_proxy.NewTileProxyService(tile_proxy.DefaultUpstream(cfg.GeoServerURL), cache)
	}

	store := methods.FeatureStore{Layer: cfg.TypeName, KeyAttribute: cfg.KeyAttribute}
	uc := views.NewUserController(models.DB, store, cache, hub, geoserver)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	routers.GeoRouters(r, uc, tiles)

	srv := &http.Server{Addr: cfg.MainRouter, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.MainRouter).Str("layer", cfg.TypeName).Msg("feature service listening")
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
