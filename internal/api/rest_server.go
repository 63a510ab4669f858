package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/middleware"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

// RestServer REST API над сервисом террейна
type RestServer struct {
	router   *gin.Engine
	service  *terrain.Service
	port     string
	metrics  *ServerMetrics
	upgrader websocket.Upgrader
	http     *http.Server
	log      *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port        string               // адрес для запуска сервера, например ":8090"
	Service     *terrain.Service     // сервис террейна
	Registry    *prometheus.Registry // реестр метрик для /metrics; nil: собственный
	ServiceName string               // имя сервиса в спанах и метриках
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8090"
	}
	if config.ServiceName == "" {
		config.ServiceName = "terrain_api"
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(config.ServiceName))

	log := logging.GetAPILogger()
	router.Use(middleware.NewRequestLogger(log).Handler())

	promMw := middleware.NewPrometheusMiddleware(config.ServiceName, config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:  router,
		service: config.Service,
		port:    config.Port,
		metrics: NewServerMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
	server.http = &http.Server{
		Addr:              config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.Use(corsMiddleware())

	api := rs.router.Group("/api")
	api.Use(jsonBodyMiddleware())
	{
		api.GET("/voxel", rs.handleGetVoxel)
		api.PUT("/voxel", rs.handlePutVoxel)
		api.GET("/region", rs.handleGetRegion)
		api.PUT("/region", rs.handlePutRegion)

		api.GET("/block/mesh", rs.handleBlockMesh)
		api.GET("/find", rs.handleFind)
		api.POST("/ray", rs.handleRay)
		api.POST("/collide", rs.handleCollide)
		api.POST("/refresh", rs.handleRefresh)
		api.POST("/tick", rs.handleTick)

		api.GET("/stats", rs.handleStats)

		api.GET("/materials", rs.handleGetMaterials)
		api.PUT("/materials", rs.handlePutMaterial)
		api.DELETE("/materials/:id", rs.handleDeleteMaterial)
	}

	rs.router.GET("/ws/events", rs.handleEvents)
	rs.router.GET("/health", rs.handleHealth)
}

// Handler возвращает http.Handler сервера
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

func (rs *RestServer) handleStats(c *gin.Context) {
	terrainStats := rs.service.Stats(c.Request.Context())

	rssMB, _ := rs.metrics.GetRSS()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	stats := map[string]interface{}{
		"terrain": terrainStats,
		"server": map[string]interface{}{
			"uptime":      rs.metrics.GetUptime(),
			"rss_mb":      fmt.Sprintf("%.2f", rssMB),
			"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
			"server_time": time.Now().Unix(),
			"node_id":     rs.service.NodeID(),
		},
		"memory_details": rs.metrics.GetDetailedMemoryStats(),
	}
	if bus := rs.service.Bus(); bus != nil {
		stats["events"] = bus.Metrics()
	}

	respond(c, http.StatusOK, "Статистика получена", stats)
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start запускает HTTP сервер и блокируется до его остановки
func (rs *RestServer) Start() error {
	rs.log.Info("🌐 REST API слушает %s", rs.port)
	if err := rs.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("REST API: %w", err)
	}
	return nil
}

// Stop останавливает HTTP сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.http.Shutdown(ctx)
}
