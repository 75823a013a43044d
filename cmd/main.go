package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NathanMahpood/FinalProject-server/config"
	"github.com/NathanMahpood/FinalProject-server/internal/api/graph"
	"github.com/NathanMahpood/FinalProject-server/internal/api/rest"
	"github.com/NathanMahpood/FinalProject-server/internal/catalog"
	intkafka "github.com/NathanMahpood/FinalProject-server/internal/kafka"
	"github.com/NathanMahpood/FinalProject-server/internal/lock"
	"github.com/NathanMahpood/FinalProject-server/internal/repository"
	"github.com/NathanMahpood/FinalProject-server/internal/service"
)

const (
	SeederLockName     = "tahbulan:catalog:seed:lock"
	LockAcquireTimeout = 30 * time.Second
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建数据库连接
	mysqlRepo, err := repository.NewMySQLRepository()
	if err != nil {
		log.Fatalf("初始化MySQL仓库失败: %v", err)
	}
	defer mysqlRepo.Close()
	log.Printf("MySQL仓库初始化成功")

	// 创建Redis连接
	redisRepo, err := repository.NewRedisRepository()
	if err != nil {
		log.Fatalf("初始化Redis仓库失败: %v", err)
	}
	defer redisRepo.Close()
	log.Printf("Redis仓库初始化成功")

	// 创建分布式锁
	distributedLock, err := lock.NewLock()
	if err != nil {
		log.Fatalf("初始化分布式锁失败: %v", err)
	}
	defer distributedLock.Close()
	log.Printf("分布式锁初始化成功，实现: %s", cfg.Lock.Provider)

	// 获取目录播种锁，只有一个实例执行建表与播种
	lockAcquired, err := distributedLock.AcquireLock(SeederLockName, LockAcquireTimeout)
	if err != nil {
		log.Printf("获取播种锁失败: %v，将以非播种模式启动", err)
	}

	var isSeeder bool
	if lockAcquired {
		log.Printf("实例 %d 获取播种锁成功，将执行目录播种", *instanceID)
		isSeeder = true
		defer distributedLock.ReleaseLock(SeederLockName)
	} else {
		log.Printf("实例 %d 未获取到播种锁，以普通节点模式启动", *instanceID)
		isSeeder = false
	}

	// 加载静态线路数据集，构建车站->线路只读索引
	stationIndex, err := catalog.LoadStationIndex(cfg.Catalog.RoutesDataPath)
	if err != nil {
		log.Fatalf("构建车站线路索引失败: %v", err)
	}
	totalRoutes, totalStations := stationIndex.Stats()
	log.Printf("车站线路索引构建成功: 线路 %d 条, 车站 %d 个", totalRoutes, totalStations)

	// 执行目录播种（仅持锁实例）
	seeder := catalog.NewSeeder(mysqlRepo, redisRepo, isSeeder)
	if err := seeder.Seed(stationIndex); err != nil {
		log.Fatalf("目录播种失败: %v", err)
	}

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 创建计数服务
	counterService := service.NewCounterService(mysqlRepo, producer)
	log.Printf("计数服务初始化成功")

	// 创建目录服务
	catalogService := service.NewCatalogService(mysqlRepo, redisRepo, stationIndex)
	log.Printf("目录服务初始化成功")

	// 启动Kafka消费者，把计数事件写入上报日志
	consumer.StartConsuming(mysqlRepo.AppendReportLog)
	log.Printf("Kafka消费者已启动")

	// 创建REST服务器并挂载GraphQL
	restServer := rest.NewServer(counterService, catalogService)
	graphqlServer := graph.NewGraphQLServer(counterService)
	restServer.MountGraphQL(cfg.GraphQL.Path, graphqlServer.Handler(), graphqlServer.PlaygroundHandler())
	log.Printf("API服务初始化成功")

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := restServer.Start(serverPort); err != nil {
			log.Fatalf("启动API服务器失败: %v", err)
		}
	}()

	log.Printf("Tahbulan 计数系统 (实例 %d) 已启动，服务地址: http://localhost:%d", *instanceID, serverPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}
