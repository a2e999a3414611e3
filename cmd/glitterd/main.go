// Command glitterd runs a glitter detector against a synthetic or
// image-sequence source and serves its results over HTTP.
//
// Usage:
//
//	glitterd [-config glitter.yaml] [-env .env]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/opd-ai/glitter"
	"github.com/opd-ai/glitter/config"
	"github.com/opd-ai/glitter/engine"
	"github.com/opd-ai/glitter/metrics"
	"github.com/opd-ai/glitter/server"
	"github.com/opd-ai/glitter/source"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	envPath := flag.String("env", ".env", "path to a dotenv file; missing files are ignored")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("glitterd failed")
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envPath, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ConfigureLogging(); err != nil {
		return err
	}

	src, err := newSource(cfg.Source)
	if err != nil {
		return err
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	det, err := glitter.New(src, engine.NewThreshold(), cfg.Options())
	if err != nil {
		return err
	}
	for _, code := range cfg.Codes {
		if err := det.AddCode(code); err != nil {
			return err
		}
	}

	collector := metrics.New(nil)
	det.SetMetrics(collector)
	logEvents(det)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fatal := make(chan error, 1)
	det.OnError(func(err error) {
		if errors.Is(err, glitter.ErrWorkerUnresponsive) {
			select {
			case fatal <- err:
			default:
			}
		}
	})

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(det, collector.Registry())
		srv.Attach(det)
	}

	if err := det.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := det.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"error":    err.Error(),
			}).Warn("Detector did not stop cleanly")
		}
	}()

	serveErr := make(chan error, 1)
	if srv != nil {
		go func() { serveErr <- srv.Run(ctx, cfg.Server.Addr) }()
	}

	select {
	case <-ctx.Done():
		logrus.WithFields(logrus.Fields{
			"function": "run",
		}).Info("Shutting down")
		return nil
	case err := <-fatal:
		return err
	case err := <-serveErr:
		return err
	}
}

func newSource(cfg config.SourceConfig) (source.Source, error) {
	switch cfg.Kind {
	case config.SourceSynthetic:
		var opts []source.SyntheticOption
		if cfg.SquareSize > 0 {
			opts = append(opts, source.WithSquareSize(cfg.SquareSize))
		}
		return source.NewSynthetic(cfg.Width, cfg.Height, opts...)
	case config.SourceImages:
		return source.NewImageSequence(cfg.Images)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownSource, cfg.Kind)
	}
}

func logEvents(det *glitter.Detector) {
	det.OnInit(func(src source.Source) {
		logrus.WithFields(logrus.Fields{
			"function":    "glitterd",
			"detector_id": det.ID().String(),
			"width":       src.Width(),
			"height":      src.Height(),
		}).Info("Detector initialized")
	})
	det.OnCalibrate(func(factor float64) {
		w, h := det.Dimensions()
		logrus.WithFields(logrus.Fields{
			"function": "glitterd",
			"decimate": factor,
			"width":    w,
			"height":   h,
		}).Info("Calibrated")
	})
	det.OnTagsFound(func(ev glitter.TagsEvent) {
		if len(ev.Tags) == 0 || !logrus.IsLevelEnabled(logrus.DebugLevel) {
			return
		}
		for _, tag := range ev.Tags {
			logrus.WithFields(logrus.Fields{
				"function": "glitterd",
				"seq":      ev.Seq,
				"tag":      tag.String(),
			}).Debug("Tag found")
		}
	})
	det.OnError(func(err error) {
		logrus.WithFields(logrus.Fields{
			"function": "glitterd",
			"error":    err.Error(),
		}).Warn("Detector error")
	})
}
