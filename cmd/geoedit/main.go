package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type CommandLineOpts struct {
	Verbose bool `short:"v" long:"verbose" description:"enable debug logging"`

	ServeCommand  ServeCommand  `command:"serve" description:"run the feature service"`
	ImportCommand ImportCommand `command:"import" description:"submit the features of a GeoJSON, KML or shapefile as new drawings"`
	LayersCommand LayersCommand `command:"layers" description:"list layers published by GeoServer"`
}

var Opts CommandLineOpts

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	parser := flags.NewParser(&Opts, flags.Default)
	parser.SubcommandsOptional = false
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if Opts.Verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		return command.Execute(args)
	}

	_, err := parser.Parse()
	if flags.WroteHelp(err) {
		os.Exit(0)
	} else if err != nil {
		os.Exit(1)
	}
}
