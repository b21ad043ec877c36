package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/bodgit/tiler"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const verboseEnv = "TILER_VERBOSE"

func verbose() bool {
	v, _ := strconv.ParseBool(os.Getenv(verboseEnv))
	return v
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&nested.Formatter{
		HideKeys:      false,
		ShowFullLevel: true,
		NoColors:      true,
	})
	logger.SetOutput(io.Discard)
	if verbose() {
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func main() {
	app := cli.NewApp()

	app.Name = "tiler"
	app.Usage = "Bake a map image and its metadata into a tile atlas"
	app.Description = fmt.Sprintf("Set %s=1 for progress and log output on stderr.", verboseEnv)
	app.ArgsUsage = "METADATA OUTPUT"
	app.Version = "1.0.0"
	app.HideHelpCommand = true
	app.HideVersion = true

	app.Action = func(c *cli.Context) error {
		if c.NArg() != 2 {
			cli.ShowAppHelpAndExit(c, 1)
		}

		var progress io.Writer
		if verbose() {
			progress = os.Stderr
		}

		p := tiler.New(newLogger(), progress)

		summary, err := p.Pack(c.Args().Get(0), c.Args().Get(1))
		if err != nil {
			return cli.Exit(err, 1)
		}

		fmt.Fprintln(c.App.Writer, summary)

		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
