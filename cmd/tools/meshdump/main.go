package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/storage"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config path")
		dbPath     = flag.String("db", "", "BadgerDB path (overrides storage.path)")
		command    = flag.String("cmd", "stats", "Command: sectors, stats, block")
		sectorArg  = flag.String("sector", "", "Sector x,y,z (stats: only this sector; block: required)")
		blockArg   = flag.String("block", "0,0,0", "Block x,y,z inside the sector")
	)
	flag.Parse()

	logging.SetDefaultLogger(logging.NewConsoleLogger("meshdump", os.Stderr, logging.WARN))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
		cfg.Storage.InMemory = false
	}

	store, err := storage.Open(storage.Options{
		Path:        cfg.Storage.Path,
		InMemory:    cfg.Storage.InMemory,
		Compression: cfg.Storage.Compression,
	})
	if err != nil {
		log.Fatalf("❌ Failed to open store: %v", err)
	}
	defer store.Close()

	// Сервис без шины и кеша: только чтение, Close не вызывается, чтобы не перезаписывать блоки
	svc, err := terrain.New(terrain.Options{
		SectorsPerLine: cfg.Terrain.SectorsPerLine,
		SectorWidth:    cfg.Terrain.SectorWidth(),
		Voxel: voxel.Config{
			BlocksPerLine: cfg.Terrain.BlocksPerLine,
			TilesPerLine:  cfg.Terrain.TilesPerLine,
		},
		Store:  store,
		NodeID: "meshdump",
	})
	if err != nil {
		log.Fatalf("❌ Failed to create terrain: %v", err)
	}
	ctx := context.Background()
	width := cfg.Terrain.SectorWidth()

	switch *command {
	case "sectors":
		sectors, err := store.StoredSectors()
		if err != nil {
			log.Fatalf("❌ Sectors failed: %v", err)
		}
		for _, s := range sectors {
			fmt.Printf("%d,%d,%d\n", s.X, s.Y, s.Z)
		}

	case "stats":
		sectors, err := selectSectors(store, *sectorArg)
		if err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}
		if err := showStats(ctx, svc, sectors, width); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	case "block":
		if *sectorArg == "" {
			log.Fatalf("❌ -sector is required for block")
		}
		sector, err := parseVec3(*sectorArg)
		if err != nil {
			log.Fatalf("❌ Bad sector: %v", err)
		}
		block, err := parseVec3(*blockArg)
		if err != nil {
			log.Fatalf("❌ Bad block: %v", err)
		}
		if err := dumpBlock(ctx, svc, sector, block, width); err != nil {
			log.Fatalf("❌ Block failed: %v", err)
		}

	default:
		log.Fatalf("❌ Unknown command: %s", *command)
	}
}

func selectSectors(store *storage.TerrainStore, arg string) ([]vec.Vec3, error) {
	if arg == "" {
		return store.StoredSectors()
	}
	s, err := parseVec3(arg)
	if err != nil {
		return nil, err
	}
	return []vec.Vec3{s}, nil
}

// loadSector подгружает один сектор через сферу нулевого радиуса в его центре
func loadSector(ctx context.Context, svc *terrain.Service, sector vec.Vec3, width float32) error {
	center := mgl32.Vec3{
		(float32(sector.X) + 0.5) * width,
		(float32(sector.Y) + 0.5) * width,
		(float32(sector.Z) + 0.5) * width,
	}
	return svc.RefreshPoint(ctx, center, 0)
}

func showStats(ctx context.Context, svc *terrain.Service, sectors []vec.Vec3, width float32) error {
	bpl := svc.Stats(ctx).BlocksPerLine

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SECTOR\tBLOCKS\tNON-EMPTY\tTRIANGLES\tGROUPS")
	total := 0
	for _, sector := range sectors {
		if err := loadSector(ctx, svc, sector, width); err != nil {
			return err
		}
		var nonEmpty, triangles, groups int
		for z := 0; z < bpl; z++ {
			for y := 0; y < bpl; y++ {
				for x := 0; x < bpl; x++ {
					mesh, err := svc.BuildBlock(ctx, voxel.NewBlockAddress(sector, vec.New3(x, y, z)))
					if err != nil {
						return err
					}
					if mesh.Empty() {
						continue
					}
					nonEmpty++
					triangles += mesh.TriangleCount()
					groups += len(mesh.Groups)
				}
			}
		}
		total += triangles
		fmt.Fprintf(w, "%d,%d,%d\t%d\t%d\t%d\t%d\n",
			sector.X, sector.Y, sector.Z, bpl*bpl*bpl, nonEmpty, triangles, groups)
	}
	fmt.Fprintf(w, "TOTAL\t\t\t%d\t\n", total)
	return w.Flush()
}

func dumpBlock(ctx context.Context, svc *terrain.Service, sector, block vec.Vec3, width float32) error {
	if err := loadSector(ctx, svc, sector, width); err != nil {
		return err
	}
	mesh, err := svc.BuildBlock(ctx, voxel.NewBlockAddress(sector, block))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(mesh)
}

func parseVec3(s string) (vec.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return vec.Vec3{}, fmt.Errorf("expected x,y,z, got %q", s)
	}
	var c [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return vec.Vec3{}, fmt.Errorf("coordinate %q: %w", p, err)
		}
		c[i] = n
	}
	return vec.New3(c[0], c[1], c[2]), nil
}
