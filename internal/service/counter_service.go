package service

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/NathanMahpood/FinalProject-server/internal/counterkey"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
	"github.com/NathanMahpood/FinalProject-server/internal/repository"
)

// maxRaceRetries 创建与自增之间竞态恢复的最大重试次数
// 有界重试保证在极端竞争下也能终止
const maxRaceRetries = 3

// ErrRaceUnresolved 竞态恢复重试耗尽，说明存储状态异常或竞争极端激烈
var ErrRaceUnresolved = errors.New("计数竞态恢复失败")

// CounterStore 计数存储接口，所有操作都是单个原子的存储级事务
type CounterStore interface {
	FindLineCounter(key counterkey.LineKey) (*model.LineCounter, error)
	ListLineCounters(lineID, stationID string, limit, offset int) ([]*model.LineCounter, error)
	CreateLineCounterIfAbsent(key counterkey.LineKey, firstUserID string) (*model.LineCounter, error)
	ApplyLineReport(key counterkey.LineKey, userID string) (*model.LineCounter, bool, error)
	ApplyLineRetraction(key counterkey.LineKey, userID string) (*model.LineCounter, bool, error)

	FindRouteCounter(key counterkey.RouteKey) (*model.RouteCounter, error)
	ListRouteCounters(limit int) ([]*model.RouteCounter, error)
	CreateRouteCounterIfAbsent(key counterkey.RouteKey, meta model.RouteCounterMeta, firstUserID string) (*model.RouteCounter, error)
	ApplyRouteReport(key counterkey.RouteKey, userID string) (*model.RouteCounter, bool, error)
	ApplyRouteRetraction(key counterkey.RouteKey, userID string) (*model.RouteCounter, bool, error)
}

// EventProducer 计数变更事件发送接口
type EventProducer interface {
	SendCounterEvent(event *model.CounterEvent) error
}

type CounterService struct {
	store    CounterStore
	producer EventProducer
}

func NewCounterService(store CounterStore, producer EventProducer) *CounterService {
	return &CounterService{
		store:    store,
		producer: producer,
	}
}

// ReportLine 线路计数上报
// 不存在则创建，存在则做成员去重的自增；返回added=false表示该用户已上报过
func (s *CounterService) ReportLine(request *model.LineReportRequest) (*model.LineCounter, bool, error) {
	key, userID, err := counterkey.ResolveLineKey(request.LineID, request.StationID, request.UserID)
	if err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < maxRaceRetries; attempt++ {
		// 先尝试对已有记录自增
		counter, added, err := s.store.ApplyLineReport(key, userID)
		if err == nil {
			if added {
				s.publishEvent(lineEvent("report", key, userID, counter.Counter))
			}
			return counter, added, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("线路计数自增失败: %w", err)
		}

		// 记录不存在，尝试创建
		counter, err = s.store.CreateLineCounterIfAbsent(key, userID)
		if err == nil {
			s.publishEvent(lineEvent("report", key, userID, counter.Counter))
			return counter, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, false, fmt.Errorf("创建线路计数失败: %w", err)
		}

		// 唯一键冲突说明并发请求抢先创建了记录，重新走自增分支
		// 本次上报不能丢失
	}

	return nil, false, ErrRaceUnresolved
}

// RetractLine 撤销线路计数上报
// 成员清空时记录被删除，返回deleted=true且counter为nil
func (s *CounterService) RetractLine(request *model.LineReportRequest) (*model.LineCounter, bool, error) {
	key, userID, err := counterkey.ResolveLineKey(request.LineID, request.StationID, request.UserID)
	if err != nil {
		return nil, false, err
	}

	counter, deleted, err := s.store.ApplyLineRetraction(key, userID)
	if err != nil {
		return nil, false, err
	}

	remaining := 0
	if counter != nil {
		remaining = counter.Counter
	}
	s.publishEvent(lineEvent("retract", key, userID, remaining))

	return counter, deleted, nil
}

// GetLineCounter 查询单个线路计数
func (s *CounterService) GetLineCounter(lineID, stationID string) (*model.LineCounter, error) {
	lineID = strings.TrimSpace(lineID)
	stationID = strings.TrimSpace(stationID)
	if lineID == "" || stationID == "" {
		return nil, fmt.Errorf("%w: 缺少必要参数 lineId, stationId", counterkey.ErrValidation)
	}

	return s.store.FindLineCounter(counterkey.LineKey{LineID: lineID, StationID: stationID})
}

// ListLineCounters 按过滤条件查询线路计数列表
func (s *CounterService) ListLineCounters(lineID, stationID string, limit, offset int) ([]*model.LineCounter, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.store.ListLineCounters(strings.TrimSpace(lineID), strings.TrimSpace(stationID), limit, offset)
}

// ReportRoute 路线计数上报
// 竞态恢复逻辑与线路计数一致；用户重复上报是无操作而不是错误
func (s *CounterService) ReportRoute(request *model.RouteReportRequest) (*model.RouteCounter, error) {
	if strings.TrimSpace(request.StationName) == "" || strings.TrimSpace(request.LineShortName) == "" {
		return nil, fmt.Errorf("%w: 缺少必要参数 stationId, stationName, lineShortName, route_mkt", counterkey.ErrValidation)
	}
	userID := strings.TrimSpace(request.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: 缺少必要参数 userId", counterkey.ErrValidation)
	}

	key, err := counterkey.ResolveRouteKey(request.StationID, request.RouteMkt, request.RouteDirection)
	if err != nil {
		return nil, err
	}

	meta := model.RouteCounterMeta{
		StationName:   strings.TrimSpace(request.StationName),
		LineShortName: strings.TrimSpace(request.LineShortName),
		LineLongName:  strings.TrimSpace(request.LineLongName),
		AgencyName:    strings.TrimSpace(request.AgencyName),
	}

	for attempt := 0; attempt < maxRaceRetries; attempt++ {
		counter, added, err := s.store.ApplyRouteReport(key, userID)
		if err == nil {
			if added {
				s.publishEvent(routeEvent("report", key, userID, counter.Counter))
			}
			return counter, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("路线计数自增失败: %w", err)
		}

		counter, err = s.store.CreateRouteCounterIfAbsent(key, meta, userID)
		if err == nil {
			s.publishEvent(routeEvent("report", key, userID, counter.Counter))
			return counter, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, fmt.Errorf("创建路线计数失败: %w", err)
		}
	}

	return nil, ErrRaceUnresolved
}

// RetractRoute 撤销路线计数上报
func (s *CounterService) RetractRoute(stationID, routeMkt interface{}, routeDirection, userID string) (*model.RouteCounter, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, fmt.Errorf("%w: 缺少必要参数 userId", counterkey.ErrValidation)
	}

	key, err := counterkey.ResolveRouteKey(stationID, routeMkt, routeDirection)
	if err != nil {
		return nil, false, err
	}

	counter, deleted, err := s.store.ApplyRouteRetraction(key, userID)
	if err != nil {
		return nil, false, err
	}

	remaining := 0
	if counter != nil {
		remaining = counter.Counter
	}
	s.publishEvent(routeEvent("retract", key, userID, remaining))

	return counter, deleted, nil
}

// GetRouteCounterProjection 路线计数读侧投影
// 记录不存在时返回全零投影而不是错误
func (s *CounterService) GetRouteCounterProjection(stationID, routeMkt interface{}, routeDirection string) (model.CounterProjection, error) {
	key, err := counterkey.ResolveRouteKey(stationID, routeMkt, routeDirection)
	if err != nil {
		return model.CounterProjection{}, err
	}

	counter, err := s.store.FindRouteCounter(key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ProjectRouteCounter(nil), nil
		}
		return model.CounterProjection{}, err
	}

	return ProjectRouteCounter(counter), nil
}

// ListRouteCounters 路线计数列表（管理端读接口）
func (s *CounterService) ListRouteCounters(limit int) ([]*model.RouteCounter, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListRouteCounters(limit)
}

// ProjectRouteCounter 纯函数：从计数记录推导停止等待建议
func ProjectRouteCounter(counter *model.RouteCounter) model.CounterProjection {
	if counter == nil {
		return model.CounterProjection{Counter: 0, UsersCount: 0, ShouldStop: false}
	}
	return model.CounterProjection{
		Counter:    counter.Counter,
		UsersCount: len(counter.Users),
		ShouldStop: counter.Counter > 0,
	}
}

// publishEvent 发送计数变更事件到Kafka
// 数据库事务已提交，事件发送失败只记录日志不影响请求结果
func (s *CounterService) publishEvent(event *model.CounterEvent) {
	if s.producer == nil {
		return
	}
	if err := s.producer.SendCounterEvent(event); err != nil {
		log.Printf("发送计数事件到Kafka失败: %v", err)
	}
}

func lineEvent(action string, key counterkey.LineKey, userID string, count int) *model.CounterEvent {
	return &model.CounterEvent{
		Variant:    "line",
		Action:     action,
		LineID:     key.LineID,
		StationID:  key.StationID,
		UserID:     userID,
		Counter:    count,
		OccurredAt: time.Now(),
	}
}

func routeEvent(action string, key counterkey.RouteKey, userID string, count int) *model.CounterEvent {
	return &model.CounterEvent{
		Variant:    "route",
		Action:     action,
		StationID:  fmt.Sprintf("%d", key.StationID),
		RouteMkt:   key.RouteMkt,
		UserID:     userID,
		Counter:    count,
		OccurredAt: time.Now(),
	}
}
