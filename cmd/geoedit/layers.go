package main

import (
	"context"
	"fmt"
	"os"

	"github.com/GrainArc/GeoEdit/transport"
)

// LayersCommand `layers` 命令：检查 GeoServer 连接并列出图层
type LayersCommand struct {
	Config string `short:"c" long:"config" description:"config file (.xml or .yaml)" value-name:"<FILE>" default:"config.xml"`
}

func (command *LayersCommand) Execute(args []string) error {
	cfg, err := loadConfig(command.Config)
	if err != nil {
		return err
	}
	if cfg.GeoServerURL == "" {
		return fmt.Errorf("no geoserver configured in %s", command.Config)
	}
	gs := transport.NewGeoServer(cfg.GeoServerURL, cfg.GeoServerUser, cfg.GeoServerPass, cfg.RequestTimeout())
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	defer cancel()
	layers, err := gs.Layers(ctx)
	if err != nil {
		return err
	}
	for _, l := range layers {
		fmt.Fprintf(os.Stdout, "%s\t%s\n", l.Name, l.Href)
	}
	return nil
}
