package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/pagequery"
	"github.com/unkn0wn-root/pagequery/codec"
	asynchook "github.com/unkn0wn-root/pagequery/hooks/async"
	"github.com/unkn0wn-root/pagequery/internal/config"
	"github.com/unkn0wn-root/pagequery/internal/demo"
	"github.com/unkn0wn-root/pagequery/invalidation/redisbus"
	pqlogrus "github.com/unkn0wn-root/pagequery/log/logrus"
	pqslog "github.com/unkn0wn-root/pagequery/log/slog"
	pqzap "github.com/unkn0wn-root/pagequery/log/zap"
	"github.com/unkn0wn-root/pagequery/promhooks"
	pr "github.com/unkn0wn-root/pagequery/provider"
	"github.com/unkn0wn-root/pagequery/provider/bigcache"
	"github.com/unkn0wn-root/pagequery/provider/ristretto"
	"github.com/unkn0wn-root/pagequery/sloghooks"
)

// session owns everything one command needs: the registry, the user cache and
// the optional bridge and metrics server. Close tears it down in reverse.
type session struct {
	cfg   *config.Config
	log   pagequery.Logger
	reg   *pagequery.Registry
	cache *pagequery.PageCache[demo.User]
	dir   *demo.Directory

	closers []func(context.Context) error
}

func openSession(ctx context.Context, cfg *config.Config, errOut io.Writer) (_ *session, err error) {
	s := &session{cfg: cfg}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	logger, flush, err := newLogger(cfg.Log, errOut)
	if err != nil {
		return nil, err
	}
	s.log = logger
	s.closers = append(s.closers, func(context.Context) error { return flush() })

	hooks, err := s.hooks(cfg, errOut)
	if err != nil {
		return nil, err
	}

	s.reg = pagequery.NewRegistry(pagequery.Options{Logger: logger, Hooks: hooks})
	s.closers = append(s.closers, s.reg.Dispose)

	spill, err := newSpill(ctx, cfg.Cache.Spill)
	if err != nil {
		return nil, err
	}
	opts := pagequery.CacheOptions[demo.User]{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL,
		SpillTTL: cfg.Cache.Spill.TTL,
	}
	if spill != nil {
		opts.Spill = spill
		if opts.Codec, err = newCodec(cfg.Cache.Codec); err != nil {
			_ = spill.Close(ctx)
			return nil, err
		}
	}
	if s.cache, err = pagequery.NewPageCache(s.reg, opts); err != nil {
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		if err := s.bridge(ctx, cfg.Redis); err != nil {
			return nil, err
		}
	}

	s.dir = demo.NewDirectory(cfg.Demo.Users, cfg.Demo.Latency)
	logger.Debug("session ready", pagequery.Fields{
		"users": cfg.Demo.Users,
		"spill": cfg.Cache.Spill.Backend,
		"codec": cfg.Cache.Codec,
	})
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (s *session) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *session) hooks(cfg *config.Config, errOut io.Writer) (pagequery.Hooks, error) {
	var hs fanout
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		hs = append(hs, promhooks.New(reg, "pagequery"))
		if err := s.serveMetrics(cfg.Metrics.Addr, reg); err != nil {
			return nil, err
		}
	}
	if cfg.Log.Events {
		events := sloghooks.New(
			stdslog.New(stdslog.NewTextHandler(errOut, &stdslog.HandlerOptions{Level: stdslog.LevelDebug})),
			sloghooks.Options{SelfHealEvery: 10, StaleDropEvery: 10},
		)
		q := asynchook.New(events, 1, 1024)
		s.closers = append(s.closers, func(context.Context) error {
			q.Close()
			return nil
		})
		hs = append(hs, q)
	}
	switch len(hs) {
	case 0:
		return nil, nil
	case 1:
		return hs[0], nil
	default:
		return hs, nil
	}
}

func (s *session) serveMetrics(addr string, g prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhooks.Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	s.closers = append(s.closers, srv.Shutdown)
	return nil
}

func (s *session) bridge(ctx context.Context, rc config.RedisConfig) error {
	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	b := redisbus.New(rdb, s.reg.Bus(), redisbus.Options{Channel: rc.Channel, Logger: s.log})
	if err := b.Start(ctx); err != nil {
		_ = rdb.Close()
		return err
	}
	s.closers = append(s.closers, func(context.Context) error {
		return errors.Join(b.Close(), rdb.Close())
	})
	return nil
}

func newLogger(lc config.LogConfig, w io.Writer) (pagequery.Logger, func() error, error) {
	level := strings.ToLower(lc.Level)
	noop := func() error { return nil }

	switch lc.Backend {
	case "zap":
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, nil, err
		}
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(w), lvl)
		l := zap.New(core)
		return pqzap.New(l), func() error {
			_ = l.Sync()
			return nil
		}, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, nil, err
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return pqlogrus.New(l), noop, nil
	case "slog", "":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, nil, err
		}
		l := stdslog.New(stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: lvl}))
		return pqslog.New(l), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", lc.Backend)
	}
}

func newSpill(ctx context.Context, sc config.SpillConfig) (pr.Provider, error) {
	switch sc.Backend {
	case "", "none":
		return nil, nil
	case "ristretto":
		return ristretto.New(ristretto.Config{
			NumCounters: max(sc.MaxCost/1024, 1000),
			MaxCost:     sc.MaxCost,
			BufferItems: 64,
		})
	case "bigcache":
		return bigcache.New(ctx, bigcache.Config{
			LifeWindow:         sc.LifeWindow,
			HardMaxCacheSizeMB: sc.MaxSizeMB,
		})
	default:
		return nil, fmt.Errorf("unknown spill backend %q", sc.Backend)
	}
}

func newCodec(name string) (codec.Codec[demo.User], error) {
	switch name {
	case "json", "":
		return codec.JSON[demo.User]{}, nil
	case "msgpack":
		return codec.Msgpack[demo.User]{}, nil
	case "cbor":
		return codec.NewCBOR[demo.User](true)
	case "protobuf":
		return codec.ProtoMapped[demo.User, *structpb.Struct]{
			Proto: codec.NewProtobuf(func() *structpb.Struct { return &structpb.Struct{} }),
			To:    demo.User.ToStruct,
			From:  demo.UserFromStruct,
		}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// fanout delivers every hook event to each of its hooks in order.
type fanout []pagequery.Hooks

var _ pagequery.Hooks = fanout(nil)

func (f fanout) CacheHit(k string) {
	for _, h := range f {
		h.CacheHit(k)
	}
}

func (f fanout) CacheMiss(k string) {
	for _, h := range f {
		h.CacheMiss(k)
	}
}

func (f fanout) FetchStarted(k string, g uint64) {
	for _, h := range f {
		h.FetchStarted(k, g)
	}
}

func (f fanout) FetchFailed(k string, err error) {
	for _, h := range f {
		h.FetchFailed(k, err)
	}
}

func (f fanout) StaleDropped(k string, g, cur uint64) {
	for _, h := range f {
		h.StaleDropped(k, g, cur)
	}
}

func (f fanout) Evicted(k string, spilled bool) {
	for _, h := range f {
		h.Evicted(k, spilled)
	}
}

func (f fanout) SpillRejected(k string) {
	for _, h := range f {
		h.SpillRejected(k)
	}
}

func (f fanout) SelfHeal(k, reason string) {
	for _, h := range f {
		h.SelfHeal(k, reason)
	}
}

func (f fanout) Invalidated(p string, matched, refetched int) {
	for _, h := range f {
		h.Invalidated(p, matched, refetched)
	}
}
