package logging

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Компоненты сервиса террейна с отдельными файлами логов
const (
	ComponentTerrain  = "terrain"
	ComponentVoxel    = "voxel"
	ComponentStorage  = "storage"
	ComponentAPI      = "api"
	ComponentEventBus = "eventbus"
)

// LoggerManager хранит логгеры компонентов и их уровни из конфигурации
type LoggerManager struct {
	mu       sync.RWMutex
	loggers  map[string]*Logger
	levels   map[string]LogLevel
	console  LogLevel
	fileless bool
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер.
// TERRAIN_LOG_FILELESS отключает файлы логов (тесты, утилиты).
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers:  make(map[string]*Logger),
			levels:   make(map[string]LogLevel),
			console:  INFO,
			fileless: os.Getenv("TERRAIN_LOG_FILELESS") != "",
		}
	})
	return globalManager
}

// Configure задаёт уровень консоли по умолчанию и уровни отдельных компонентов.
// Уже созданные логгеры перенастраиваются сразу.
func (lm *LoggerManager) Configure(console LogLevel, components map[string]LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.console = console
	lm.levels = make(map[string]LogLevel, len(components))
	for name, level := range components {
		lm.levels[name] = level
	}
	for name, logger := range lm.loggers {
		logger.SetLevels(lm.levelFor(name), TRACE)
	}
}

// levelFor вызывается под mu
func (lm *LoggerManager) levelFor(component string) LogLevel {
	if level, ok := lm.levels[component]; ok {
		return level
	}
	return lm.console
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()
	if exists {
		return logger, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	level := lm.levelFor(component)
	if lm.fileless {
		logger = NewConsoleLogger(component, os.Stdout, level)
	} else {
		var err error
		if logger, err = NewLogger(component); err != nil {
			return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
		}
		logger.SetLevels(level, TRACE)
	}
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger при ошибке файла отдаёт консольный логгер и запоминает его
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err == nil {
		return logger
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	fallback := NewConsoleLogger(component, os.Stdout, lm.levelFor(component))
	lm.loggers[component] = fallback
	return fallback
}

// CloseAll закрывает файлы всех компонентов и забывает логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close logger for %s: %w", component, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// ListComponents имена компонентов с созданными логгерами, по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel меняет пороги уже созданного логгера
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("logger for component %s not found", component)
	}
	logger.SetLevels(consoleLevel, fileLevel)
	return nil
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetTerrainLogger() *Logger  { return GetComponentLogger(ComponentTerrain) }
func GetVoxelLogger() *Logger    { return GetComponentLogger(ComponentVoxel) }
func GetStorageLogger() *Logger  { return GetComponentLogger(ComponentStorage) }
func GetAPILogger() *Logger      { return GetComponentLogger(ComponentAPI) }
func GetEventBusLogger() *Logger { return GetComponentLogger(ComponentEventBus) }
