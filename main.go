package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/photobooth/capture"
	"github.com/chaos-io/photobooth/capture/source"
	"github.com/chaos-io/photobooth/config"
	"github.com/chaos-io/photobooth/present"
	"github.com/chaos-io/photobooth/rembg"
	"github.com/chaos-io/photobooth/server"
	"github.com/chaos-io/photobooth/session"
	"github.com/chaos-io/photobooth/util"
	nhttp "github.com/chaos-io/photobooth/util/http"
)

func main() {
	app := &cli.App{
		Name:  "photobooth",
		Usage: "capture a photo, replace its background remotely, share the result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{"PHOTOBOOTH_CONFIG"}},
		},
		Commands: []*cli.Command{serveCommand(), shootCommand()},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup 读取配置并初始化日志
func setup(c *cli.Context) (config.Config, func(), error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cfg, nil, err
	}
	_, closer := util.NewLogger(cfg.Log.Options())
	return cfg, func() { _ = closer.Close() }, nil
}

var echoFlag = &cli.BoolFlag{Name: "echo", Usage: "skip the remote service and return the captured image as result"}

func newSubmitter(c *cli.Context, cfg config.Config, httpCli nhttp.IClient) rembg.Submitter {
	if c.Bool("echo") {
		slog.Warn("echo mode, remote service disabled")
		return rembg.NewEchoClient()
	}
	return rembg.NewRemoteClient(cfg.Endpoint,
		rembg.WithHTTPClient(httpCli),
		rembg.WithTimeout(cfg.UploadTimeout),
		rembg.WithRateLimit(cfg.RatePerMinute, cfg.RateBurst),
	)
}

// newHTTPClient 整体超时与上传超时一致，单次提交另有 ctx 超时
func newHTTPClient(cfg config.Config) nhttp.IClient {
	return nhttp.NewHTTPClientWith(&http.Client{Timeout: cfg.UploadTimeout})
}

func newEncoder(cfg config.Config) *capture.Encoder {
	return capture.NewEncoder(capture.WithQuality(cfg.Quality), capture.WithMaxEdge(cfg.MaxEdge))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the capture page and session API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides config"},
			echoFlag,
		},
		Action: func(c *cli.Context) error {
			cfg, closeLog, err := setup(c)
			if err != nil {
				return err
			}
			defer closeLog()
			if addr := c.String("addr"); addr != "" {
				cfg.Addr = addr
			}

			httpCli := newHTTPClient(cfg)
			sub := newSubmitter(c, cfg, httpCli)
			enc := newEncoder(cfg)

			mgr := session.NewManager(func(id string) *session.Session {
				log := slog.Default().With("session", id)
				return session.New(id, source.NewPushSource(log), sub,
					session.WithEncoder(enc),
					session.WithUploadFile(cfg.FieldName, cfg.UploadFileName),
					session.WithMirrorUserFacing(cfg.MirrorUserFacing),
				)
			}, cfg.SessionTTL, slog.Default())

			srv := server.New(mgr, present.NewFetcher(httpCli), server.Options{
				DownloadName: cfg.DownloadName,
				QRSize:       cfg.QRSize,
			})

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(ctx, cfg.Addr)
			})
			g.Go(func() error {
				if err := mgr.Start(cfg.SweepSpec); err != nil {
					return fmt.Errorf("start session sweeper: %w", err)
				}
				<-ctx.Done()
				mgr.Stop(context.Background())
				return nil
			})

			slog.Info("photobooth started", "addr", cfg.Addr, "endpoint", cfg.Endpoint)
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			slog.Info("photobooth stopped")
			return nil
		},
	}
}

func shootCommand() *cli.Command {
	return &cli.Command{
		Name:  "shoot",
		Usage: "run one capture cycle on a still image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "image path or URL", Required: true},
			&cli.StringFlag{Name: "qr", Usage: "write the result QR code PNG to this file"},
			&cli.StringFlag{Name: "download", Aliases: []string{"o"}, Usage: "write the result image to this file"},
			echoFlag,
		},
		Action: func(c *cli.Context) error {
			cfg, closeLog, err := setup(c)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			defer util.Trace("shoot")()

			httpCli := newHTTPClient(cfg)
			src, err := source.LoadStaticSource(ctx, httpCli, c.String("input"))
			if err != nil {
				return err
			}

			s := session.New("shoot", src, newSubmitter(c, cfg, httpCli),
				session.WithEncoder(newEncoder(cfg)),
				session.WithUploadFile(cfg.FieldName, cfg.UploadFileName),
				session.WithMirrorUserFacing(cfg.MirrorUserFacing),
			)
			defer func() { _ = s.Close() }()

			if _, err := s.Capture(ctx); err != nil {
				return err
			}
			if _, err := s.Next(); err != nil {
				return err
			}
			done := make(chan struct{})
			go func() {
				s.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}

			snap := s.Snapshot()
			if snap.Phase != session.Resolved.String() {
				return fmt.Errorf("submit: %s", snap.Error)
			}
			fmt.Fprintln(c.App.Writer, snap.Reference)

			if path := c.String("qr"); path != "" {
				png, err := present.QRCode(snap.Reference, cfg.QRSize)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return fmt.Errorf("write qr code: %w", err)
				}
				slog.Info("qr code written", "path", path)
			}

			if path := c.String("download"); path != "" {
				bin, err := present.NewFetcher(httpCli).Fetch(ctx, snap.Reference)
				if err != nil {
					return err
				}
				if err := os.WriteFile(path, bin.Data, 0o644); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
				slog.Info("result written", "path", path, "bytes", len(bin.Data))
			}
			return nil
		},
	}
}
