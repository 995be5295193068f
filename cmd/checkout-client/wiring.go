package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/browser"
	"github.com/redis/go-redis/v9"

	"mailsized/apiclient"
	"mailsized/checkout"
	"mailsized/config"
	"mailsized/download"
	"mailsized/ossstore"
	"mailsized/progress"
	"mailsized/redislock"
	"mailsized/store"
	"mailsized/streamq"
	"mailsized/upload"
)

func init() {
	// Browser launchers write to the terminal; keep the console view clean.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

type browserNavigator struct{}

func (browserNavigator) Navigate(_ context.Context, rawURL string) error {
	return browser.OpenURL(rawURL)
}

type wireOpts struct {
	sessionID string
	noBrowser bool
	userAgent string
	view      checkout.View
}

// client is the fully wired checkout stack for one command.
type client struct {
	cfg   *config.Config
	api   *apiclient.Client
	ctrl  *checkout.Controller
	rdb   *redis.Client
	lease *redislock.Client
}

func (c *client) Close() {
	c.ctrl.Close()
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
}

func wire(cfg *config.Config, opts wireOpts, logger *slog.Logger) (*client, error) {
	api, err := apiclient.New(apiclient.Options{BaseURL: cfg.API.BaseURL, RequestTimeout: cfg.RequestTimeout()})
	if err != nil {
		return nil, err
	}

	var transfer upload.Transfer = api
	var fetcher download.Fetcher = api
	if cfg.Storage.Bucket != "" {
		oss, err := ossstore.New(cfg.Storage.Endpoint, cfg.Storage.Bucket, cfg.Storage.Region)
		if err != nil {
			return nil, fmt.Errorf("init oss store: %w", err)
		}
		transfer = upload.RoutedTransfer{Preferred: oss, Default: api}
		fetcher = download.RoutedFetcher{Preferred: oss, Default: api}
		logger.Info("oss store enabled", "bucket", cfg.Storage.Bucket)
	}

	c := &client{cfg: cfg, api: api}
	var markers store.MarkerStore = store.NewInMemoryMarkerStore()
	var opener progress.Opener = progress.SSEOpener{Streams: api}
	if cfg.Redis.Addr != "" {
		rdb, err := store.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		c.rdb = rdb
		c.lease = redislock.New(rdb, redislock.DefaultPrefix)
		markers = store.NewRedisMarkerStore(rdb)
		if cfg.Progress.Transport == config.TransportRedis {
			opener = streamq.NewProgressStream(rdb, "", 0)
		}
	}

	coord, err := upload.NewCoordinator(upload.Options{
		Registrar: api,
		Transfer:  transfer,
		Prober:    upload.NewFFProbeFromEnv(),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var nav checkout.Navigator
	var linkOpener download.Opener
	if !opts.noBrowser {
		nav = browserNavigator{}
		linkOpener = download.OpenerFunc(browser.OpenURL)
	}

	c.ctrl, err = checkout.New(checkout.Deps{
		API:          api,
		Uploader:     coord,
		Progress:     opener,
		Markers:      markers,
		Gate:         cfg.Gate(),
		Navigator:    nav,
		Download:     strategyFor(cfg.Download.Strategy, opts.userAgent, fetcher, linkOpener),
		View:         opts.view,
		Logger:       logger,
		SessionID:    opts.sessionID,
		FetchTimeout: cfg.FetchTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func strategyFor(name, userAgent string, fetcher download.Fetcher, opener download.Opener) download.Strategy {
	switch name {
	case config.StrategyLink:
		return download.DirectLink{Opener: opener}
	case config.StrategyAuto:
		return download.ForCapability(download.DetectCapability(userAgent), fetcher, opener)
	default:
		return download.FetchAndSave{Fetcher: fetcher}
	}
}
