package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// Config корневая структура конфигурации сервиса террейна.
type Config struct {
	Terrain   TerrainConfig    `yaml:"terrain"`
	WorldGen  WorldGenConfig   `yaml:"worldgen"`
	Materials []MaterialConfig `yaml:"materials"`
	Storage   StorageConfig    `yaml:"storage"`
	Cache     CacheConfig      `yaml:"cache"`
	EventBus  EventBusConfig   `yaml:"eventbus"`
	Server    ServerConfig     `yaml:"server"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

type TerrainConfig struct {
	SectorsPerLine int     `yaml:"sectors_per_line"`
	BlocksPerLine  int     `yaml:"blocks_per_line"`
	TilesPerLine   int     `yaml:"tiles_per_line"`
	TileWidth      float32 `yaml:"tile_width"` // мировых единиц на тайл
	FillType       uint8   `yaml:"fill_type"`
	// Секторы, не обновлявшиеся дольше, выгружаются; 0 отключает выгрузку
	SectorTTLSeconds int `yaml:"sector_ttl_seconds"`
	TickMillis       int `yaml:"tick_ms"`
}

// SectorWidth ширина сектора в мировых единицах
func (t TerrainConfig) SectorWidth() float32 {
	return t.TileWidth * float32(t.TilesPerLine)
}

// TickInterval период прохода обновления
func (t TerrainConfig) TickInterval() time.Duration {
	return time.Duration(t.TickMillis) * time.Millisecond
}

// SectorTTL время жизни неиспользуемого сектора
func (t TerrainConfig) SectorTTL() time.Duration {
	return time.Duration(t.SectorTTLSeconds) * time.Second
}

type WorldGenConfig struct {
	Enabled    bool  `yaml:"enabled"`
	Seed       int64 `yaml:"seed"`
	BaseHeight int   `yaml:"base_height"`
	Amplitude  int   `yaml:"amplitude"`
	WaterLevel int   `yaml:"water_level"`
	Stone      uint8 `yaml:"stone"`
	Soil       uint8 `yaml:"soil"`
	Water      uint8 `yaml:"water"`
}

// MaterialConfig описание материала в YAML
type MaterialConfig struct {
	ID           uint32      `yaml:"id" json:"id"`
	Name         string      `yaml:"name" json:"name"`
	Class        string      `yaml:"class" json:"class"`
	Friction     *float32    `yaml:"friction" json:"friction"`
	TextureScale *float32    `yaml:"texture_scale" json:"texture_scale"`
	Occluder     bool        `yaml:"occluder" json:"occluder"`
	Shader       string      `yaml:"shader" json:"shader"`
	Textures     []string    `yaml:"textures" json:"textures"`
	Diffuse      *[4]float32 `yaml:"diffuse" json:"diffuse"`
}

// ToMaterial строит материал, подставляя значения по умолчанию
func (m MaterialConfig) ToMaterial() (*voxel.Material, error) {
	class, err := voxel.ParseGeometryClass(m.Class)
	if err != nil {
		return nil, fmt.Errorf("материал %d: %w", m.ID, err)
	}
	mat := voxel.NewMaterial(m.ID)
	mat.Name = m.Name
	mat.Class = class
	if m.Friction != nil {
		mat.Friction = *m.Friction
	}
	if m.TextureScale != nil {
		mat.TextureScale = *m.TextureScale
	}
	if m.Occluder {
		mat.Flags |= voxel.FlagOccluder
	}
	mat.Render.Shader = m.Shader
	mat.Render.Textures = append([]string(nil), m.Textures...)
	if m.Diffuse != nil {
		mat.Render.Diffuse = *m.Diffuse
	}
	return mat, nil
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	InMemory    bool   `yaml:"in_memory"`
	Compression bool   `yaml:"compression"`
}

type CacheConfig struct {
	RedisURL    string `yaml:"redis_url"`
	TTLSeconds  int    `yaml:"ttl_seconds"`
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// TTL время жизни записи кеша
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто: шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`
	MetricsPort int `yaml:"metrics_port"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "TERRAIN_REST_PORT", 8090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "TERRAIN_METRICS_PORT", 2113)
}

// LoggingConfig уровни консольного вывода: общий и по компонентам (voxel, storage, api...)
type LoggingConfig struct {
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components"`
}

// ComponentLevels разбирает уровни компонентов
func (l LoggingConfig) ComponentLevels() map[string]logging.LogLevel {
	levels := make(map[string]logging.LogLevel, len(l.Components))
	for name, level := range l.Components {
		levels[name] = logging.ParseLevel(level)
	}
	return levels
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults заполняет незаданные поля
func (c *Config) applyDefaults() {
	t := &c.Terrain
	if t.SectorsPerLine == 0 {
		t.SectorsPerLine = 128
	}
	if t.BlocksPerLine == 0 {
		t.BlocksPerLine = voxel.DefaultBlocksPerLine
	}
	if t.TilesPerLine == 0 {
		t.TilesPerLine = voxel.DefaultTilesPerLine
	}
	if t.TileWidth == 0 {
		t.TileWidth = 1
	}
	if t.TickMillis == 0 {
		t.TickMillis = 100
	}
	if c.WorldGen.BaseHeight == 0 {
		c.WorldGen.BaseHeight = 24
	}
	if c.WorldGen.Amplitude == 0 {
		c.WorldGen.Amplitude = 12
	}
	if c.Storage.Path == "" && !c.Storage.InMemory {
		c.Storage.Path = "data/terrain"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.EventBus.Buffer == 0 {
		c.EventBus.Buffer = 1024
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "voxel-terrain"
	}
}

// Validate проверяет согласованность сетки
func (c *Config) Validate() error {
	t := c.Terrain
	if t.SectorsPerLine <= 0 || t.SectorsPerLine > 256 {
		return fmt.Errorf("terrain.sectors_per_line=%d вне диапазона 1..256", t.SectorsPerLine)
	}
	if t.BlocksPerLine <= 0 || t.TilesPerLine <= 0 || t.TilesPerLine%t.BlocksPerLine != 0 {
		return fmt.Errorf("terrain: tiles_per_line=%d должно делиться на blocks_per_line=%d",
			t.TilesPerLine, t.BlocksPerLine)
	}
	if t.TileWidth <= 0 {
		return fmt.Errorf("terrain.tile_width=%v должно быть положительным", t.TileWidth)
	}
	seen := make(map[uint32]bool)
	for _, m := range c.Materials {
		if m.ID == 0 || m.ID > 255 {
			return fmt.Errorf("материал %q: id %d вне диапазона 1..255", m.Name, m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("материал %d описан дважды", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать путь из ENV TERRAIN_CONFIG;
// без файла возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TERRAIN_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
