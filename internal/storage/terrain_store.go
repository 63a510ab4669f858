package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// Кодек полезной нагрузки блока, первый байт значения
const (
	codecRaw  byte = 0
	codecZstd byte = 1
)

var (
	ErrNotReady = errors.New("storage: store is closed")
	ErrNotFound = errors.New("storage: key not found")
	ErrCorrupt  = errors.New("storage: corrupt value")
)

// Options параметры открытия хранилища
type Options struct {
	Path        string
	InMemory    bool
	Compression bool
}

// TerrainStore хранит полезную нагрузку блоков и определения материалов в BadgerDB
type TerrainStore struct {
	db       *badger.DB
	mutex    sync.RWMutex
	isReady  bool
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	log      *logging.Logger
}

// Open открывает хранилище
func Open(opts Options) (*TerrainStore, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать компрессор: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("не удалось создать декомпрессор: %w", err)
	}

	s := &TerrainStore{
		db:       db,
		isReady:  true,
		compress: opts.Compression,
		encoder:  encoder,
		decoder:  decoder,
		log:      logging.GetStorageLogger(),
	}
	s.log.Info("Хранилище открыто (path=%q, memory=%v, zstd=%v)", opts.Path, opts.InMemory, opts.Compression)
	return s, nil
}

// Close закрывает хранилище
func (s *TerrainStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// BlockKey ключ блока в хранилище и кеше
func BlockKey(addr voxel.BlockAddress) string {
	return fmt.Sprintf("block:%d:%d:%d:%d:%d:%d",
		addr.Sector[0], addr.Sector[1], addr.Sector[2],
		addr.Block[0], addr.Block[1], addr.Block[2])
}

// ParseBlockKey разбирает ключ, построенный BlockKey
func ParseBlockKey(key string) (voxel.BlockAddress, error) {
	var a voxel.BlockAddress
	_, err := fmt.Sscanf(key, "block:%d:%d:%d:%d:%d:%d",
		&a.Sector[0], &a.Sector[1], &a.Sector[2], &a.Block[0], &a.Block[1], &a.Block[2])
	if err != nil {
		return voxel.BlockAddress{}, fmt.Errorf("ключ блока %q: %w", key, err)
	}
	return a, nil
}

func sectorPrefix(sector vec.Vec3) []byte {
	return []byte(fmt.Sprintf("block:%d:%d:%d:", sector.X, sector.Y, sector.Z))
}

func materialKey(id uint32) []byte {
	return []byte(fmt.Sprintf("material:%d", id))
}

// encode упаковывает полезную нагрузку блока
func (s *TerrainStore) encode(payload []byte) []byte {
	if !s.compress {
		return append([]byte{codecRaw}, payload...)
	}
	return s.encoder.EncodeAll(payload, []byte{codecZstd})
}

// decode распаковывает значение, записанное encode
func (s *TerrainStore) decode(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return nil, ErrCorrupt
	}
	switch value[0] {
	case codecRaw:
		return append([]byte(nil), value[1:]...), nil
	case codecZstd:
		out, err := s.decoder.DecodeAll(value[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("ошибка распаковки: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: неизвестный кодек %d", ErrCorrupt, value[0])
}

// SaveBlock сохраняет проводное представление блока
func (s *TerrainStore) SaveBlock(addr voxel.BlockAddress, payload []byte) error {
	return s.Store(context.Background(), BlockKey(addr), payload)
}

// LoadBlock загружает проводное представление блока; ErrNotFound, если его нет
func (s *TerrainStore) LoadBlock(addr voxel.BlockAddress) ([]byte, error) {
	return s.Load(context.Background(), BlockKey(addr))
}

// DeleteBlock удаляет блок
func (s *TerrainStore) DeleteBlock(addr voxel.BlockAddress) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(BlockKey(addr)))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления блока %v: %w", addr, err)
	}
	return nil
}

// SectorBlocks возвращает все сохранённые блоки сектора
func (s *TerrainStore) SectorBlocks(sector vec.Vec3) (map[voxel.BlockAddress][]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	out := make(map[voxel.BlockAddress][]byte)
	prefix := sectorPrefix(sector)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			addr, err := ParseBlockKey(string(item.Key()))
			if err != nil {
				s.log.Warn("Пропущен ключ %q: %v", item.Key(), err)
				continue
			}
			err = item.Value(func(val []byte) error {
				payload, err := s.decode(val)
				if err != nil {
					return fmt.Errorf("блок %v: %w", addr, err)
				}
				out[addr] = payload
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения сектора %v: %w", sector, err)
	}
	return out, nil
}

// StoredSectors возвращает координаты секторов, у которых есть сохранённые блоки
func (s *TerrainStore) StoredSectors() ([]vec.Vec3, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	seen := make(map[vec.Vec3]struct{})
	var out []vec.Vec3
	prefix := []byte("block:")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			addr, err := ParseBlockKey(string(it.Item().Key()))
			if err != nil {
				continue
			}
			sector := addr.SectorCoord()
			if _, ok := seen[sector]; ok {
				continue
			}
			seen[sector] = struct{}{}
			out = append(out, sector)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода секторов: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out, nil
}

// Load читает значение по ключу
func (s *TerrainStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data, err = s.decode(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s из BadgerDB: %w", key, err)
	}
	return data, nil
}

// Store записывает значение по ключу
func (s *TerrainStore) Store(ctx context.Context, key string, value []byte) error {
	return s.BatchStore(ctx, map[string][]byte{key: value})
}

// BatchStore записывает несколько значений одной транзакцией
func (s *TerrainStore) BatchStore(ctx context.Context, items map[string][]byte) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	if len(items) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for key, value := range items {
		if err := wb.Set([]byte(key), s.encode(value)); err != nil {
			return fmt.Errorf("ошибка записи %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// SaveMaterial сохраняет определение материала
func (s *TerrainStore) SaveMaterial(m *voxel.Material) error {
	if m == nil {
		return voxel.ErrNilMaterial
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("ошибка сериализации материала %d: %w", m.ID, err)
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(materialKey(m.ID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения материала %d: %w", m.ID, err)
	}
	return nil
}

// DeleteMaterial удаляет определение материала
func (s *TerrainStore) DeleteMaterial(id uint32) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrNotReady
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(materialKey(id))
	})
}

// LoadMaterials возвращает все сохранённые материалы по возрастанию ID
func (s *TerrainStore) LoadMaterials() ([]*voxel.Material, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrNotReady
	}

	var out []*voxel.Material
	prefix := []byte("material:")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				m := voxel.NewMaterial(0)
				if err := json.Unmarshal(val, m); err != nil {
					return fmt.Errorf("ошибка десериализации %s: %w", it.Item().Key(), err)
				}
				out = append(out, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
