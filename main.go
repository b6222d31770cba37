package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/iancoleman/strcase"
	"github.com/muesli/reflow/truncate"
	"github.com/urfave/cli/v2"

	"github.com/felipecarrillo100/geotifftilesetmodel/gradient"
	"github.com/felipecarrillo100/geotifftilesetmodel/mbtiles"
	"github.com/felipecarrillo100/geotifftilesetmodel/model"
	"github.com/felipecarrillo100/geotifftilesetmodel/rawsource"
	"github.com/felipecarrillo100/geotifftilesetmodel/render"
	"github.com/felipecarrillo100/geotifftilesetmodel/serve"
)

const SOURCE string = `sourceDataset`
const TARGET string = `targetMbtiles`
const OVERWRITE string = `overwrite`
const GRADIENT string = `gradient`
const NODATA string = `nodata`
const FLIPY string = `flipy`
const PAGESIZE string = `pagesize`
const WORKERS string = `workers`
const BIND string = `bind`
const TIMEOUT string = `timeout`

func main() {
	app := cli.NewApp()
	app.Name = "geotifftilesetmodel"
	app.Usage = "A Golang raster pyramid tile decoding application"
	app.Version = versioninfo.Short()

	sourceFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     SOURCE,
			Aliases:  []string{"s"},
			Usage:    "Source dataset descriptor (JSON next to raw sample blobs)",
			Required: true,
			EnvVars:  []string{strcase.ToScreamingSnake(SOURCE)},
		},
		&cli.StringFlag{
			Name:     GRADIENT,
			Aliases:  []string{"g"},
			Usage:    "Gradient definition file (JSON stops, optional native range)",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(GRADIENT)},
		},
		&cli.Float64Flag{
			Name:     NODATA,
			Usage:    "Nodata sentinel value, rendered fully transparent",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(NODATA)},
		},
		&cli.BoolFlag{
			Name:     FLIPY,
			Usage:    "Treat the dataset's pixel space as bottom-up",
			Required: false,
			EnvVars:  []string{strcase.ToScreamingSnake(FLIPY)},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:  "render",
			Usage: "Decode every tile of the pyramid into an MBTiles archive",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     TARGET,
					Aliases:  []string{"t"},
					Usage:    "Target MBTiles file",
					Required: true,
					EnvVars:  []string{strcase.ToScreamingSnake(TARGET)},
				},
				&cli.BoolFlag{
					Name:     OVERWRITE,
					Aliases:  []string{"o"},
					Usage:    "Overwrite the target MBTiles if it exists",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(OVERWRITE)},
				},
				&cli.IntFlag{
					Name:     PAGESIZE,
					Aliases:  []string{"p"},
					Usage:    "Page Size, how many tiles are written per transaction to the target",
					Value:    1000,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(PAGESIZE)},
				},
				&cli.IntFlag{
					Name:     WORKERS,
					Aliases:  []string{"w"},
					Usage:    "Number of concurrent tile decoding workers, 0 = number of CPUs",
					Value:    0,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(WORKERS)},
				},
			}, sourceFlags...),
			Action: renderAction,
		},
		{
			Name:  "serve",
			Usage: "Serve the pyramid as an XYZ tile endpoint over HTTP",
			Flags: append([]cli.Flag{
				&cli.StringFlag{
					Name:     BIND,
					Aliases:  []string{"b"},
					Usage:    "Address to listen on",
					Value:    "localhost:8080",
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(BIND)},
				},
				&cli.DurationFlag{
					Name:     TIMEOUT,
					Usage:    "Per-request timeout",
					Value:    30 * time.Second,
					Required: false,
					EnvVars:  []string{strcase.ToScreamingSnake(TIMEOUT)},
				},
			}, sourceFlags...),
			Action: serveAction,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// openModel builds a tile-set model from the shared source flags.
func openModel(c *cli.Context) (*model.TileSetModel, *rawsource.Source, error) {
	source, err := rawsource.Open(c.String(SOURCE))
	if err != nil {
		return nil, nil, err
	}
	log.Printf("opened %s (%s)", datasetName(source, c.String(SOURCE)), truncate.StringWithTail(source.Description, 60, "..."))

	cfg := model.Config{FlipY: c.Bool(FLIPY)}
	if gradientPath := c.String(GRADIENT); gradientPath != "" {
		data, err := os.ReadFile(gradientPath)
		if err != nil {
			source.Close()
			return nil, nil, fmt.Errorf("could not read gradient file: %w", err)
		}
		colorMap, rng, err := gradient.ParseDefinition(data)
		if err != nil {
			source.Close()
			return nil, nil, err
		}
		cfg.Gradient = colorMap.Stops()
		cfg.Range = rng
	}
	if c.IsSet(NODATA) {
		nodata := c.Float64(NODATA)
		cfg.NoData = &nodata
	}

	m, err := model.New(source, cfg)
	if err != nil {
		source.Close()
		return nil, nil, err
	}
	return m, source, nil
}

func datasetName(source *rawsource.Source, descriptorPath string) string {
	if source.Name != "" {
		return source.Name
	}
	return path.Base(descriptorPath)
}

func renderAction(c *cli.Context) error {
	m, source, err := openModel(c)
	if err != nil {
		return err
	}
	defer source.Close()

	targetPath := c.String(TARGET)
	if c.Bool(OVERWRITE) {
		err := os.Remove(targetPath)
		var pathError *os.PathError
		if err != nil {
			if !(errors.As(err, &pathError) && errors.Is(pathError.Err, syscall.ENOENT)) {
				log.Fatalf("could not remove target file: %v", err)
			}
		}
	}

	target, err := mbtiles.NewWriter(targetPath, c.Int(PAGESIZE))
	if err != nil {
		return err
	}
	defer target.Close()

	set := m.Matrices()
	err = target.CreateSchema(mbtiles.Metadata{
		Name:    datasetName(source, c.String(SOURCE)),
		Format:  "png",
		MinZoom: 0,
		MaxZoom: set.Len() - 1,
		Bounds:  set.Finest().Extent,
	})
	if err != nil {
		return err
	}

	log.Println("=== start rendering ===")
	err = render.Pyramid(c.Context, m, target, c.Int(WORKERS))
	if err != nil {
		return err
	}
	log.Println("=== done rendering ===")
	return nil
}

func serveAction(c *cli.Context) error {
	m, source, err := openModel(c)
	if err != nil {
		return err
	}
	defer source.Close()

	timeout := c.Duration(TIMEOUT)
	server := &http.Server{
		Addr:         c.String(BIND),
		Handler:      serve.NewServer(m, versioninfo.Short()).Router(timeout),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
