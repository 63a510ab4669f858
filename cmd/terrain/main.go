package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/voxel-terrain/internal/api"
	"github.com/annel0/voxel-terrain/internal/cache"
	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/observability"
	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/voxel"
	"github.com/annel0/voxel-terrain/internal/worldgen"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию $TERRAIN_CONFIG)")
	flag.Parse()

	if err := logging.InitDefaultLogger("terrain"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	logging.GetLoggerManager().Configure(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.ComponentLevels())
	defer logging.GetLoggerManager().CloseAll()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	logging.Info("👋 Сервер успешно остановлен")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeID := uuid.NewString()
	logging.Info("🧱 Запуск сервиса террейна, узел %s", nodeID)

	// === Телеметрия ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
		if err != nil {
			logging.Warn("OpenTelemetry недоступен: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("Остановка OpenTelemetry: %v", err)
				}
			}()
		}
	}

	// === Хранилище ===
	store, err := storage.Open(storage.Options{
		Path:        cfg.Storage.Path,
		InMemory:    cfg.Storage.InMemory,
		Compression: cfg.Storage.Compression,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// === Кеш и инвалидация ===
	var invalidator cache.CacheInvalidator
	if cfg.Cache.NATSURL != "" {
		inv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{
			NATSURL: cfg.Cache.NATSURL,
			Subject: cfg.Cache.NATSSubject,
		}, nodeID)
		if err != nil {
			return err
		}
		defer inv.Close()
		invalidator = inv
	}

	var blockCache cache.CacheRepo
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisCache(&cache.CacheConfig{
			RedisURL:   cfg.Cache.RedisURL,
			DefaultTTL: cfg.Cache.TTL(),
		}, store, invalidator)
		if err != nil {
			return err
		}
		blockCache = rc
	} else {
		blockCache = cache.NewMemoryCache(cfg.Cache.TTL(), store, invalidator)
	}
	defer blockCache.Close()

	if invalidator != nil {
		// Чужие узлы сбрасывают наши копии блоков
		err := invalidator.SubscribeInvalidations(ctx, func(key string) error {
			return blockCache.Delete(ctx, key)
		})
		if err != nil {
			return err
		}
	}

	// === Шина событий ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		jb, err := eventbus.NewJetStreamBus(eventbus.JetStreamOptions{
			URL:       cfg.EventBus.URL,
			Stream:    cfg.EventBus.Stream,
			NodeID:    nodeID,
			Retention: time.Duration(cfg.EventBus.Retention) * time.Hour,
		})
		if err != nil {
			return err
		}
		bus = jb
	} else {
		bus = eventbus.NewMemoryBus(cfg.EventBus.Buffer)
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		return err
	}

	// === Метрики ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter := eventbus.NewMetricsExporter(bus, registry, nodeID)
	exporter.Start()
	defer exporter.Stop()

	// === Террейн ===
	var gen *worldgen.HeightMap
	if wg := cfg.WorldGen; wg.Enabled {
		gen = worldgen.NewHeightMap(wg.Seed, worldgen.Materials{Stone: wg.Stone, Soil: wg.Soil, Water: wg.Water})
		gen.BaseHeight = wg.BaseHeight
		gen.Amplitude = wg.Amplitude
		gen.WaterLevel = wg.WaterLevel
	}

	svc, err := terrain.New(terrain.Options{
		SectorsPerLine: cfg.Terrain.SectorsPerLine,
		SectorWidth:    cfg.Terrain.SectorWidth(),
		Voxel: voxel.Config{
			BlocksPerLine: cfg.Terrain.BlocksPerLine,
			TilesPerLine:  cfg.Terrain.TilesPerLine,
			FillType:      cfg.Terrain.FillType,
		},
		SectorTTL:  cfg.Terrain.SectorTTL(),
		Store:      store,
		Cache:      blockCache,
		Bus:        bus,
		Generator:  gen,
		Registerer: registry,
		NodeID:     nodeID,
	})
	if err != nil {
		return err
	}
	for _, mc := range cfg.Materials {
		mat, err := mc.ToMaterial()
		if err != nil {
			return err
		}
		if err := svc.InsertMaterial(ctx, mat); err != nil {
			return fmt.Errorf("материал %d: %w", mc.ID, err)
		}
	}
	go svc.Run(ctx, cfg.Terrain.TickInterval())

	// === HTTP ===
	server := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", cfg.Server.GetRESTPort()),
		Service:  svc,
		Registry: registry,
	})
	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	metricsAddr := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("метрики: %w", err)
		}
	}()

	logging.Info("✅ Сервис запущен")
	logging.Info("   🌐 REST API: http://localhost:%d", cfg.Server.GetRESTPort())
	logging.Info("   📊 Метрики: http://localhost%s/metrics", metricsAddr)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetRESTPort())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logging.Info("📡 Получен сигнал %v, завершение работы...", sig)
	case runErr = <-errCh:
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}
	cancel()
	logging.Debug("Сохранение секторов...")
	svc.Close(shutdownCtx)
	return runErr
}
