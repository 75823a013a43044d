package service

import (
	"log"

	"github.com/NathanMahpood/FinalProject-server/internal/catalog"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
	"github.com/NathanMahpood/FinalProject-server/internal/repository"
)

// CatalogService 车站/线路目录读服务（协作方，非核心）
type CatalogService struct {
	mysqlRepo *repository.MySQLRepository
	redisRepo *repository.RedisRepository
	index     *catalog.StationIndex
}

func NewCatalogService(
	mysqlRepo *repository.MySQLRepository,
	redisRepo *repository.RedisRepository,
	index *catalog.StationIndex,
) *CatalogService {
	return &CatalogService{
		mysqlRepo: mysqlRepo,
		redisRepo: redisRepo,
		index:     index,
	}
}

// ListStations 车站目录查询，先查缓存再回源数据库
func (s *CatalogService) ListStations(city string, code int64, limit, offset int) ([]*model.Station, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	stations, found, err := s.redisRepo.GetStations(city, code, limit, offset)
	if err != nil {
		log.Printf("读取车站缓存失败: %v", err)
	}
	if found {
		return stations, nil
	}

	stations, err = s.mysqlRepo.ListStations(city, code, limit, offset)
	if err != nil {
		return nil, err
	}

	if err := s.redisRepo.SetStations(city, code, limit, offset, stations); err != nil {
		log.Printf("更新车站缓存失败: %v", err)
	}

	return stations, nil
}

// LinesForStation 从只读索引查询经过车站的线路
func (s *CatalogService) LinesForStation(stationID int64) []string {
	return s.index.LinesForStation(stationID)
}

// StationsForRoute 从只读索引查询线路途经的车站
func (s *CatalogService) StationsForRoute(busLineID string) []int64 {
	return s.index.RouteForLine(busLineID)
}

// ListRoutes 线路-车站文档列表，先查缓存再回源数据库
func (s *CatalogService) ListRoutes() ([]*model.BusRoute, error) {
	routes, found, err := s.redisRepo.GetBusRoutes()
	if err != nil {
		log.Printf("读取线路缓存失败: %v", err)
	}
	if found {
		return routes, nil
	}

	routes, err = s.mysqlRepo.ListBusRoutes()
	if err != nil {
		return nil, err
	}

	if err := s.redisRepo.SetBusRoutes(routes); err != nil {
		log.Printf("更新线路缓存失败: %v", err)
	}

	return routes, nil
}
