package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/physics"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/voxel"
)

// Пределы одного запроса. Всё, что больше, подгружает в память слишком много секторов.
const (
	maxRegionVolume = 64 * 64 * 64 // тайлов в области и в AABB тела
	maxFindRadius   = 32           // тайлов
	maxRayLength    = 256          // тайлов
	maxRefreshRange = 2            // секторов в радиусе подгрузки
)

var errTooLarge = errors.New("запрос превышает допустимый размер")

// TileQuery координата тайла в строке запроса
type TileQuery struct {
	X int `form:"x"`
	Y int `form:"y"`
	Z int `form:"z"`
}

// VoxelRequest запись вокселя
type VoxelRequest struct {
	X    int   `json:"x"`
	Y    int   `json:"y"`
	Z    int   `json:"z"`
	Type uint8 `json:"type"`
	Hint uint8 `json:"hint"`
}

// VoxelResponse воксель по координате
type VoxelResponse struct {
	Tile vec.Vec3 `json:"tile"`
	Type uint8    `json:"type"`
	Hint uint8    `json:"hint"`
}

// RegionQuery область тайлов в строке запроса
type RegionQuery struct {
	TileQuery
	SX int `form:"sx"`
	SY int `form:"sy"`
	SZ int `form:"sz"`
}

// RegionRequest запись области; типы идут с X быстрее всего
type RegionRequest struct {
	Origin vec.Vec3 `json:"origin"`
	Size   vec.Vec3 `json:"size"`
	Types  []int    `json:"types"`
}

// BlockQuery адрес блока в строке запроса
type BlockQuery struct {
	SX int `form:"sx"`
	SY int `form:"sy"`
	SZ int `form:"sz"`
	BX int `form:"bx"`
	BY int `form:"by"`
	BZ int `form:"bz"`
}

// FindQuery параметры поиска вокселя
type FindQuery struct {
	X      float32 `form:"x"`
	Y      float32 `form:"y"`
	Z      float32 `form:"z"`
	Radius float32 `form:"radius"`
	Mode   string  `form:"mode"` // empty, full или all
}

// RayRequest отрезок в мировых координатах
type RayRequest struct {
	Start mgl32.Vec3 `json:"start"`
	End   mgl32.Vec3 `json:"end"`
}

// RayResponse результат пересечения
type RayResponse struct {
	Hit    bool       `json:"hit"`
	Point  mgl32.Vec3 `json:"point"`
	Tile   vec.Vec3   `json:"tile"`
	Normal mgl32.Vec3 `json:"normal"`
}

// CollideRequest AABB тела в мировых координатах
type CollideRequest struct {
	Min mgl32.Vec3 `json:"min"`
	Max mgl32.Vec3 `json:"max"`
}

// RefreshRequest точка интереса
type RefreshRequest struct {
	Point  mgl32.Vec3 `json:"point"`
	Radius float32    `json:"radius"`
}

func (rs *RestServer) handleGetVoxel(c *gin.Context) {
	var q TileQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "Неверные координаты", err)
		return
	}
	p := vec.New3(q.X, q.Y, q.Z)
	v := rs.service.GetVoxel(c.Request.Context(), p)
	respond(c, http.StatusOK, "Воксель", VoxelResponse{Tile: p, Type: v.Type, Hint: v.Hint})
}

func (rs *RestServer) handlePutVoxel(c *gin.Context) {
	var req VoxelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	p := vec.New3(req.X, req.Y, req.Z)
	if !rs.service.Edit(c.Request.Context(), p, voxel.Voxel{Type: req.Type, Hint: req.Hint}) {
		fail(c, http.StatusUnprocessableEntity, "Координата вне мира", nil)
		return
	}
	respond(c, http.StatusOK, "Воксель записан", VoxelResponse{Tile: p, Type: req.Type, Hint: req.Hint})
}

func checkRegion(size vec.Vec3) error {
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return errors.New("размер области должен быть положительным")
	}
	if size.X*size.Y*size.Z > maxRegionVolume {
		return errors.New("область слишком велика")
	}
	return nil
}

// tileWidth ширина тайла в мировых единицах
func (rs *RestServer) tileWidth(c *gin.Context) float32 {
	return rs.service.Stats(c.Request.Context()).TileWidth
}

// boxTiles число тайлов, которые задевает AABB, по каждой оси
func boxTiles(lo, hi mgl32.Vec3, tw float32) [3]float64 {
	var n [3]float64
	for i := 0; i < 3; i++ {
		n[i] = math.Floor(float64(hi[i]/tw)) - math.Floor(float64(lo[i]/tw)) + 1
	}
	return n
}

func (rs *RestServer) handleGetRegion(c *gin.Context) {
	var q RegionQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "Неверные параметры области", err)
		return
	}
	origin, size := vec.New3(q.X, q.Y, q.Z), vec.New3(q.SX, q.SY, q.SZ)
	if err := checkRegion(size); err != nil {
		fail(c, http.StatusBadRequest, "Неверная область", err)
		return
	}
	voxels := rs.service.Copy(c.Request.Context(), origin, size)
	types := make([]int, len(voxels))
	for i, v := range voxels {
		types[i] = int(v.Type)
	}
	respond(c, http.StatusOK, "Область", RegionRequest{Origin: origin, Size: size, Types: types})
}

func (rs *RestServer) handlePutRegion(c *gin.Context) {
	var req RegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	if err := checkRegion(req.Size); err != nil {
		fail(c, http.StatusBadRequest, "Неверная область", err)
		return
	}
	voxels := make([]voxel.Voxel, len(req.Types))
	for i, t := range req.Types {
		if t < 0 || t > 255 {
			fail(c, http.StatusBadRequest, "Тип вокселя вне диапазона 0..255", nil)
			return
		}
		voxels[i] = voxel.Voxel{Type: uint8(t)}
	}
	if err := rs.service.Paste(c.Request.Context(), req.Origin, req.Size, voxels); err != nil {
		fail(c, http.StatusBadRequest, "Область не записана", err)
		return
	}
	respond(c, http.StatusOK, "Область записана", gin.H{"voxels": len(voxels)})
}

func (rs *RestServer) handleBlockMesh(c *gin.Context) {
	var q BlockQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "Неверный адрес блока", err)
		return
	}
	sector, block := vec.New3(q.SX, q.SY, q.SZ), vec.New3(q.BX, q.BY, q.BZ)
	if !sector.Inside(256) || !block.Inside(256) {
		fail(c, http.StatusBadRequest, "Неверный адрес блока", terrain.ErrBadAddress)
		return
	}
	mesh, err := rs.service.BuildBlock(c.Request.Context(), voxel.NewBlockAddress(sector, block))
	if errors.Is(err, terrain.ErrBadAddress) {
		fail(c, http.StatusBadRequest, "Неверный адрес блока", err)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "Ошибка построения меша", err)
		return
	}
	respond(c, http.StatusOK, "Меш блока", gin.H{
		"triangles": mesh.TriangleCount(),
		"mesh":      mesh,
	})
}

func parseFindMode(mode string) (uint8, bool) {
	switch mode {
	case "", "full":
		return voxel.FindFull, true
	case "empty":
		return voxel.FindEmpty, true
	case "all":
		return voxel.FindAll, true
	}
	return 0, false
}

func (rs *RestServer) handleFind(c *gin.Context) {
	var q FindQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "Неверные параметры поиска", err)
		return
	}
	flags, valid := parseFindMode(q.Mode)
	if !valid || q.Radius < 0 {
		fail(c, http.StatusBadRequest, "Неверные параметры поиска", nil)
		return
	}
	if q.Radius > maxFindRadius*rs.tileWidth(c) {
		fail(c, http.StatusBadRequest, "Радиус поиска слишком велик", errTooLarge)
		return
	}
	v, tile, found := rs.service.Find(c.Request.Context(), flags, mgl32.Vec3{q.X, q.Y, q.Z}, q.Radius)
	if !found {
		fail(c, http.StatusNotFound, "Воксель не найден", nil)
		return
	}
	respond(c, http.StatusOK, "Воксель найден", VoxelResponse{Tile: tile, Type: v.Type, Hint: v.Hint})
}

func (rs *RestServer) handleRay(c *gin.Context) {
	var req RayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	if req.End.Sub(req.Start).Len() > maxRayLength*rs.tileWidth(c) {
		fail(c, http.StatusBadRequest, "Луч слишком длинный", errTooLarge)
		return
	}
	col, hit := rs.service.CastRay(c.Request.Context(), req.Start, req.End)
	respond(c, http.StatusOK, "Луч", RayResponse{Hit: hit, Point: col.Point, Tile: col.Tile, Normal: col.Normal})
}

func (rs *RestServer) handleCollide(c *gin.Context) {
	var req CollideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	for i := 0; i < 3; i++ {
		if req.Min[i] > req.Max[i] {
			fail(c, http.StatusBadRequest, "min больше max", nil)
			return
		}
	}
	n := boxTiles(req.Min, req.Max, rs.tileWidth(c))
	if n[0]*n[1]*n[2] > maxRegionVolume {
		fail(c, http.StatusBadRequest, "Тело слишком велико", errTooLarge)
		return
	}
	res := rs.service.Collide(c.Request.Context(), physics.AABB{Min: req.Min, Max: req.Max})
	respond(c, http.StatusOK, "Контакты", res)
}

func (rs *RestServer) handleRefresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	st := rs.service.Stats(c.Request.Context())
	if req.Radius < 0 || req.Radius > maxRefreshRange*st.TileWidth*float32(st.TilesPerLine) {
		fail(c, http.StatusBadRequest, "Неверный радиус подгрузки", errTooLarge)
		return
	}
	if err := rs.service.RefreshPoint(c.Request.Context(), req.Point, req.Radius); err != nil {
		fail(c, http.StatusInternalServerError, "Ошибка загрузки секторов", err)
		return
	}
	respond(c, http.StatusOK, "Секторы обновлены", rs.service.Stats(c.Request.Context()))
}

func (rs *RestServer) handleTick(c *gin.Context) {
	respond(c, http.StatusOK, "Проход выполнен", rs.service.Tick(c.Request.Context()))
}

func (rs *RestServer) handleGetMaterials(c *gin.Context) {
	mats := rs.service.Materials(c.Request.Context())
	respond(c, http.StatusOK, "Материалы", gin.H{
		"materials": mats,
		"total":     len(mats),
	})
}

func (rs *RestServer) handlePutMaterial(c *gin.Context) {
	var req config.MaterialConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Неверный формат материала", err)
		return
	}
	mat, err := req.ToMaterial()
	if err != nil {
		fail(c, http.StatusBadRequest, "Неверный материал", err)
		return
	}
	if err := rs.service.InsertMaterial(c.Request.Context(), mat); err != nil {
		if errors.Is(err, voxel.ErrReservedMaterial) {
			fail(c, http.StatusBadRequest, "Неверный материал", err)
			return
		}
		fail(c, http.StatusInternalServerError, "Материал не сохранён", err)
		return
	}
	respond(c, http.StatusOK, "Материал сохранён", mat)
}

func (rs *RestServer) handleDeleteMaterial(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "Неверный ID материала", err)
		return
	}
	if err := rs.service.RemoveMaterial(c.Request.Context(), uint32(id)); err != nil {
		fail(c, http.StatusInternalServerError, "Материал не удалён", err)
		return
	}
	respond(c, http.StatusOK, "Материал удалён", nil)
}
