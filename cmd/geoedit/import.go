package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/GrainArc/GeoEdit/Transformer"
	"github.com/GrainArc/GeoEdit/config"
	"github.com/GrainArc/GeoEdit/draw"
	"github.com/GrainArc/GeoEdit/session"
	"github.com/GrainArc/GeoEdit/transport"
)

// ImportCommand `import` 命令：把 GeoJSON/KML/Shapefile 中的要素作为新绘制要素提交到配置的后端
type ImportCommand struct {
	Config string `short:"c" long:"config" description:"config file (.xml or .yaml)" value-name:"<FILE>" default:"config.xml"`
	REST   bool   `long:"rest" description:"use the REST feature API instead of WFS-T"`
	Args   struct {
		File string `positional-arg-name:"<FILE>" required:"true"`
	} `positional-args:"true"`
}

func newBackend(cfg config.Config, rest bool) (session.Backend, error) {
	if rest {
		if cfg.FeatureAPIURL == "" {
			return nil, fmt.Errorf("no featureapi configured")
		}
		return &session.RESTBackend{API: transport.NewFeatureAPI(cfg.FeatureAPIURL, cfg.RequestTimeout())}, nil
	}
	if cfg.WFSURL == "" {
		return nil, fmt.Errorf("no wfs endpoint configured")
	}
	return &session.WFSBackend{
		Sender:  transport.NewWFS(cfg.WFSURL, cfg.RequestTimeout()),
		Options: cfg.WFSOptions(),
	}, nil
}

func (command *ImportCommand) Execute(args []string) error {
	cfg, err := loadConfig(command.Config)
	if err != nil {
		return err
	}
	backend, err := newBackend(cfg, command.REST)
	if err != nil {
		return err
	}

	fc, err := Transformer.ReadFile(command.Args.File)
	if err != nil {
		return err
	}

	buf := draw.NewBuffer()
	for _, f := range fc.Features {
		if f.Geometry == nil {
			log.Warn().Interface("id", f.ID).Msg("skipping feature without geometry")
			continue
		}
		buf.Add(f)
	}
	if buf.Len() == 0 {
		return fmt.Errorf("%s contains no features with geometry", command.Args.File)
	}

	sess := session.New(session.Deps{Surface: buf, Backend: backend})
	return sess.Save(context.Background())
}
