package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/NathanMahpood/FinalProject-server/config"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
)

const (
	// Redis键前缀
	StationListKey = "catalog:stations:"
	BusRoutesKey   = "catalog:routes:all"
)

// RedisRepository 静态目录缓存
// 只缓存车站/线路目录，绝不缓存计数值——计数读写必须全部经过MySQL的原子原语
type RedisRepository struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisRepository() (*RedisRepository, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis连接测试失败: %w", err)
	}

	return &RedisRepository{
		client: client,
		ctx:    ctx,
	}, nil
}

// stationFilterKey 按过滤条件生成缓存键
func stationFilterKey(city string, code int64, limit, offset int) string {
	return fmt.Sprintf("%s%s:%d:%d:%d", StationListKey, city, code, limit, offset)
}

// GetStations 从缓存获取车站列表
func (r *RedisRepository) GetStations(city string, code int64, limit, offset int) ([]*model.Station, bool, error) {
	key := stationFilterKey(city, code, limit, offset)
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取车站列表缓存失败: %w", err)
	}

	var stations []*model.Station
	if err := json.Unmarshal([]byte(data), &stations); err != nil {
		return nil, false, fmt.Errorf("解析车站列表缓存失败: %w", err)
	}

	return stations, true, nil
}

// SetStations 设置车站列表缓存
func (r *RedisRepository) SetStations(city string, code int64, limit, offset int, stations []*model.Station) error {
	key := stationFilterKey(city, code, limit, offset)
	data, err := json.Marshal(stations)
	if err != nil {
		return fmt.Errorf("序列化车站列表失败: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, config.AppConfig.Redis.CacheTTL).Err(); err != nil {
		return fmt.Errorf("设置车站列表缓存失败: %w", err)
	}

	return nil
}

// GetBusRoutes 从缓存获取线路文档列表
func (r *RedisRepository) GetBusRoutes() ([]*model.BusRoute, bool, error) {
	data, err := r.client.Get(r.ctx, BusRoutesKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("获取线路列表缓存失败: %w", err)
	}

	var routes []*model.BusRoute
	if err := json.Unmarshal([]byte(data), &routes); err != nil {
		return nil, false, fmt.Errorf("解析线路列表缓存失败: %w", err)
	}

	return routes, true, nil
}

// SetBusRoutes 设置线路文档列表缓存
func (r *RedisRepository) SetBusRoutes(routes []*model.BusRoute) error {
	data, err := json.Marshal(routes)
	if err != nil {
		return fmt.Errorf("序列化线路列表失败: %w", err)
	}

	if err := r.client.Set(r.ctx, BusRoutesKey, data, config.AppConfig.Redis.CacheTTL).Err(); err != nil {
		return fmt.Errorf("设置线路列表缓存失败: %w", err)
	}

	return nil
}

// InvalidateCatalogCache 目录播种完成后清空缓存，保证读到最新数据
func (r *RedisRepository) InvalidateCatalogCache() error {
	iter := r.client.Scan(r.ctx, 0, StationListKey+"*", 0).Iterator()
	for iter.Next(r.ctx) {
		if err := r.client.Del(r.ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("删除车站缓存 %s 失败: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("扫描车站缓存键失败: %w", err)
	}

	if err := r.client.Del(r.ctx, BusRoutesKey).Err(); err != nil {
		return fmt.Errorf("删除线路缓存失败: %w", err)
	}

	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
