package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"spider_go/internal/book"
	"spider_go/internal/dispatch"
	"spider_go/internal/infra"
	"spider_go/internal/infra/okx"
	"spider_go/internal/infra/storage"
	"spider_go/internal/instrument"
	"spider_go/internal/sink"
	"spider_go/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Logger     *slog.Logger
	Metrics    *infra.Metrics
	Storage    *storage.Storage
	Catalog    *instrument.Catalog
	Sink       sink.Sink
	Dispatcher *dispatch.Dispatcher
	Client     *okx.Client
	Supervisor *stream.Supervisor

	redis *redis.Client
	kafka *kafka.Writer
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration and wires every component. Nothing
// connects to the exchange until Run.
func (b *Bootstrap) Initialize(ctx context.Context, configPath string, reg prometheus.Registerer) error {
	slog.Info("🚀 Bootstrapping Spider...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	b.Metrics = infra.NewMetrics(reg)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Warm the catalog with what the last run discovered
	b.Catalog = instrument.NewCatalog()
	b.WarmStart(time.Now())

	// 5. Sinks
	if err := b.connectSinks(ctx); err != nil {
		b.Close()
		return err
	}

	// 6. Stream
	gate := infra.NewRateGate(100, 0.2)
	b.Dispatcher = dispatch.New(ctx, dispatch.Options{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Logger:    b.Logger,
		Metrics:   b.Metrics,
	})
	rest := okx.NewRestClient(cfg.Exchange.RestURL, cfg.Exchange.Testnet, cfg.Stream.HandshakeTimeout, b.Logger)
	b.Client, err = okx.NewClient(okx.Options{
		Exchange:     cfg.Exchange.Name,
		WSURL:        cfg.Exchange.WSURL,
		Testnet:      cfg.Exchange.Testnet,
		Currencies:   cfg.Spider.Currencies,
		Kinds:        cfg.Spider.Kinds,
		BookChannel:  cfg.Spider.BookChannel,
		PublishDepth: cfg.Spider.PublishDepth,
		MarkPrice:    cfg.Spider.MarkPrice,
		FundingRate:  cfg.Spider.FundingRate,
		IndexTickers: cfg.Spider.IndexTickers,
		LoginTimeout: cfg.Stream.LoginTimeout,
		APIKey:       cfg.Exchange.AccessKey,
		SecretKey:    cfg.Exchange.SecretKey,
		Passphrase:   cfg.Exchange.Passphrase,
		Logger:       b.Logger,
		Metrics:      b.Metrics,
		Gate:         gate,
	}, rest, store, b.Catalog, book.NewRegistry(cfg.Spider.BookDepth), b.Dispatcher, b.Sink)
	if err != nil {
		b.Close()
		return err
	}

	b.Supervisor = stream.NewSupervisor(b.Client, stream.WSDialer{
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		ReadLimit:        cfg.Stream.ReadLimit,
	}, stream.Options{
		StaleThreshold:   cfg.Stream.StaleThreshold,
		WatchdogPeriod:   cfg.Stream.WatchdogPeriod,
		WatchdogCooldown: cfg.Stream.WatchdogCooldown,
		ReconnectBackoff: cfg.Stream.ReconnectBackoff,
		WriteTimeout:     cfg.Stream.WriteTimeout,
		PingInterval:     cfg.Stream.PingInterval,
		Logger:           b.Logger,
		Metrics:          b.Metrics,
		Gate:             gate,
	})
	slog.Info("✅ Stream ready", slog.String("dispatcher", b.Dispatcher.String()))
	return nil
}

// WarmStart drops expired instruments from storage and loads the rest into
// the catalog, so frames arriving before discovery completes resolve.
func (b *Bootstrap) WarmStart(now time.Time) {
	if n, err := b.Storage.DeleteExpired(now); err != nil {
		slog.Warn("Failed to delete expired instruments", slog.Any("error", err))
	} else if n > 0 {
		slog.Info("🧹 Expired instruments removed", slog.Int64("count", n))
	}

	insts, err := b.Storage.LoadInstruments(b.Config.Exchange.Name)
	if err != nil {
		slog.Warn("Failed to load instruments", slog.Any("error", err))
		return
	}
	b.Catalog.Put(insts...)
	slog.Info("✨ Catalog warmed", slog.Int("instruments", b.Catalog.Len()))
}

func (b *Bootstrap) connectSinks(ctx context.Context) error {
	cfg := b.Config
	var sinks sink.Fanout

	if cfg.Redis.URL != "" || cfg.Redis.Addr != "" {
		client, err := sink.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		b.redis = client
		sinks = append(sinks, sink.NewRedis(client))
		slog.Info("✅ Redis sink connected")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		b.kafka = sink.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, sink.NewKafka(b.kafka))
		slog.Info("✅ Kafka sink ready", slog.String("topic", cfg.Kafka.Topic))
	}

	switch len(sinks) {
	case 0:
		slog.Warn("⚠️ No sink configured, market data stays in memory")
		b.Sink = sink.NewMemory()
	case 1:
		b.Sink = sinks[0]
	default:
		b.Sink = sinks
	}
	return nil
}

// Run supervises the stream and logs throughput until ctx ends.
func (b *Bootstrap) Run(ctx context.Context) error {
	go b.reportStats(ctx, b.Config.Metrics.StatsInterval)
	return b.Supervisor.Run(ctx)
}

func (b *Bootstrap) reportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := b.Metrics.Snapshot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur := b.Metrics.Snapshot()
		frames, books := cur.Rate(prev)
		prev = cur

		slog.Info("📊 Stream stats",
			slog.String("state", b.Supervisor.State().String()),
			slog.Float64("frames_per_sec", frames),
			slog.Float64("books_per_sec", books),
			slog.Uint64("decode_failures", cur.DecodeFailures),
			slog.Uint64("reconnects", cur.Reconnects),
			slog.Any("queue_depths", b.Dispatcher.Depths()),
		)
	}
}

// Close releases the dispatcher, sinks and database.
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Dispatcher != nil {
		b.Dispatcher.Close()
	}
	if b.kafka != nil {
		errs = append(errs, b.kafka.Close())
	}
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.Storage != nil {
		errs = append(errs, b.Storage.Close())
	}
	return errors.Join(errs...)
}
