// Command uacd runs a USB Audio Class 1.0 device.
//
//	uacd serve /tmp/usb-bus
//	uacd sim --frames 10000 --speaker-ppm 200
//	uacd config init serve --format yaml
package main

import (
	"errors"
	"os"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/ardnew/softaudio/internal/cmd"
	"github.com/ardnew/softaudio/internal/configpaths"
	"github.com/ardnew/softaudio/pkg/prof"
)

func main() {
	userCfg := cmd.FindUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name("uacd"),
		kong.Description("USB Audio Class 1.0 streaming device"),
		kong.UsageOnError(),
		// Flags and environment override configuration files.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	closer, err := cli.Log.Setup(os.Stderr)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to set up logging: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer closer.Close()

	stop, err := prof.Start(cli.Profile)
	ctx.FatalIfErrorf(err)

	err = ctx.Run()
	ctx.FatalIfErrorf(errors.Join(err, stop()))
}
