package catalog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/NathanMahpood/FinalProject-server/config"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
	"github.com/NathanMahpood/FinalProject-server/internal/repository"
)

// Seeder 目录播种器
// 只有抢到启动锁的实例执行播种，其它实例直接读库
type Seeder struct {
	mysqlRepo *repository.MySQLRepository
	redisRepo *repository.RedisRepository
	isSeeder  bool
}

func NewSeeder(
	mysqlRepo *repository.MySQLRepository,
	redisRepo *repository.RedisRepository,
	isSeeder bool,
) *Seeder {
	return &Seeder{
		mysqlRepo: mysqlRepo,
		redisRepo: redisRepo,
		isSeeder:  isSeeder,
	}
}

// Seed 建表并把静态数据集写入数据库
func (s *Seeder) Seed(index *StationIndex) error {
	if !s.isSeeder {
		log.Printf("当前实例未持有播种锁，跳过目录播种")
		return nil
	}

	if err := s.mysqlRepo.EnsureSchema(); err != nil {
		return fmt.Errorf("初始化数据库结构失败: %w", err)
	}

	routes := index.Routes()
	if len(routes) > 0 {
		if err := s.mysqlRepo.UpsertBusRoutes(routes); err != nil {
			return fmt.Errorf("播种线路目录失败: %w", err)
		}
	}

	// 车站目录来自单独的数据集，开关控制，数据集缺失时视为配置错误
	if config.AppConfig.Catalog.SeedStations {
		stations, err := LoadStations(config.AppConfig.Catalog.StationsDataPath)
		if err != nil {
			return err
		}
		if err := s.SeedStations(stations); err != nil {
			return err
		}
	}

	// 播种后清空缓存，避免读到旧目录
	if err := s.redisRepo.InvalidateCatalogCache(); err != nil {
		log.Printf("清空目录缓存失败: %v", err)
	}

	totalRoutes, totalStations := index.Stats()
	log.Printf("目录播种完成: 线路 %d 条, 覆盖车站 %d 个", totalRoutes, totalStations)

	return nil
}

// LoadStations 读取车站数据集文件（外部抓取脚本的结果集）
func LoadStations(path string) ([]*model.Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取车站数据集失败: %w", err)
	}

	var stations []*model.Station
	if err := json.Unmarshal(data, &stations); err != nil {
		return nil, fmt.Errorf("解析车站数据集失败: %w", err)
	}

	return stations, nil
}

// SeedStations 写入车站目录（数据来自外部抓取脚本的结果集）
func (s *Seeder) SeedStations(stations []*model.Station) error {
	if !s.isSeeder {
		return nil
	}
	if len(stations) == 0 {
		return nil
	}

	if err := s.mysqlRepo.UpsertStations(stations); err != nil {
		return fmt.Errorf("播种车站目录失败: %w", err)
	}

	log.Printf("车站目录播种完成: %d 个车站", len(stations))
	return nil
}
