package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanMahpood/FinalProject-server/internal/counterkey"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
	"github.com/NathanMahpood/FinalProject-server/internal/repository"
)

// memStore 内存版计数存储，用互斥锁模拟存储级原子事务
type memStore struct {
	mu     sync.Mutex
	lines  map[counterkey.LineKey]*model.LineCounter
	routes map[counterkey.RouteKey]*model.RouteCounter
	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		lines:  make(map[counterkey.LineKey]*model.LineCounter),
		routes: make(map[counterkey.RouteKey]*model.RouteCounter),
	}
}

func copyLineCounter(c *model.LineCounter) *model.LineCounter {
	out := *c
	out.Users = append([]string{}, c.Users...)
	return &out
}

func copyRouteCounter(c *model.RouteCounter) *model.RouteCounter {
	out := *c
	out.Users = append([]string{}, c.Users...)
	return &out
}

func (s *memStore) FindLineCounter(key counterkey.LineKey) (*model.LineCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.lines[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyLineCounter(counter), nil
}

func (s *memStore) ListLineCounters(lineID, stationID string, limit, offset int) ([]*model.LineCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.LineCounter
	for key, counter := range s.lines {
		if lineID != "" && key.LineID != lineID {
			continue
		}
		if stationID != "" && key.StationID != stationID {
			continue
		}
		out = append(out, copyLineCounter(counter))
	}
	return out, nil
}

func (s *memStore) CreateLineCounterIfAbsent(key counterkey.LineKey, firstUserID string) (*model.LineCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lines[key]; ok {
		return nil, repository.ErrDuplicateKey
	}
	s.nextID++
	now := time.Now()
	counter := &model.LineCounter{
		ID:        s.nextID,
		LineID:    key.LineID,
		StationID: key.StationID,
		Counter:   1,
		Users:     []string{firstUserID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lines[key] = counter
	return copyLineCounter(counter), nil
}

func (s *memStore) ApplyLineReport(key counterkey.LineKey, userID string) (*model.LineCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.lines[key]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	for _, u := range counter.Users {
		if u == userID {
			return copyLineCounter(counter), false, nil
		}
	}
	counter.Users = append(counter.Users, userID)
	counter.Counter = len(counter.Users)
	counter.UpdatedAt = time.Now()
	return copyLineCounter(counter), true, nil
}

func (s *memStore) ApplyLineRetraction(key counterkey.LineKey, userID string) (*model.LineCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.lines[key]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	users := counter.Users[:0]
	for _, u := range counter.Users {
		if u != userID {
			users = append(users, u)
		}
	}
	counter.Users = users
	counter.Counter = len(users)
	if len(users) == 0 {
		delete(s.lines, key)
		return nil, true, nil
	}
	return copyLineCounter(counter), false, nil
}

func (s *memStore) FindRouteCounter(key counterkey.RouteKey) (*model.RouteCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.routes[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyRouteCounter(counter), nil
}

func (s *memStore) ListRouteCounters(limit int) ([]*model.RouteCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.RouteCounter
	for _, counter := range s.routes {
		out = append(out, copyRouteCounter(counter))
	}
	return out, nil
}

func (s *memStore) CreateRouteCounterIfAbsent(key counterkey.RouteKey, meta model.RouteCounterMeta, firstUserID string) (*model.RouteCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[key]; ok {
		return nil, repository.ErrDuplicateKey
	}
	s.nextID++
	now := time.Now()
	counter := &model.RouteCounter{
		ID:             s.nextID,
		StationID:      key.StationID,
		StationName:    meta.StationName,
		LineShortName:  meta.LineShortName,
		LineLongName:   meta.LineLongName,
		AgencyName:     meta.AgencyName,
		RouteMkt:       key.RouteMkt,
		RouteDirection: key.RouteDirection,
		Counter:        1,
		Users:          []string{firstUserID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.routes[key] = counter
	return copyRouteCounter(counter), nil
}

func (s *memStore) ApplyRouteReport(key counterkey.RouteKey, userID string) (*model.RouteCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.routes[key]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	for _, u := range counter.Users {
		if u == userID {
			return copyRouteCounter(counter), false, nil
		}
	}
	counter.Users = append(counter.Users, userID)
	counter.Counter = len(counter.Users)
	counter.UpdatedAt = time.Now()
	return copyRouteCounter(counter), true, nil
}

func (s *memStore) ApplyRouteRetraction(key counterkey.RouteKey, userID string) (*model.RouteCounter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.routes[key]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	users := counter.Users[:0]
	for _, u := range counter.Users {
		if u != userID {
			users = append(users, u)
		}
	}
	counter.Users = users
	counter.Counter = len(users)
	if len(users) == 0 {
		delete(s.routes, key)
		return nil, true, nil
	}
	return copyRouteCounter(counter), false, nil
}

// memProducer 记录发送的事件
type memProducer struct {
	mu     sync.Mutex
	events []*model.CounterEvent
}

func (p *memProducer) SendCounterEvent(event *model.CounterEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *memProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestReportLineCreatesThenIncrements(t *testing.T) {
	store := newMemStore()
	producer := &memProducer{}
	svc := NewCounterService(store, producer)

	counter, added, err := svc.ReportLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, counter.Counter)

	counter, added, err = svc.ReportLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "u2"})
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, counter.Counter)
	assert.ElementsMatch(t, []string{"u1", "u2"}, counter.Users)
	assert.Equal(t, 2, producer.count())
}

// 同一用户重复上报只计一次
func TestReportLineIdempotentMembership(t *testing.T) {
	store := newMemStore()
	svc := NewCounterService(store, nil)

	request := &model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "u1"}

	_, added, err := svc.ReportLine(request)
	require.NoError(t, err)
	assert.True(t, added)

	counter, added, err := svc.ReportLine(request)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, counter.Counter)
	assert.Equal(t, []string{"u1"}, counter.Users)
}

func TestReportLineValidation(t *testing.T) {
	svc := NewCounterService(newMemStore(), nil)

	_, _, err := svc.ReportLine(&model.LineReportRequest{LineID: "", StationID: "S1", UserID: "u1"})
	assert.ErrorIs(t, err, counterkey.ErrValidation)
}

// N个并发首次上报只产生一条记录，计数等于N
func TestReportLineConcurrentFirstReports(t *testing.T) {
	store := newMemStore()
	svc := NewCounterService(store, nil)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.ReportLine(&model.LineReportRequest{
				LineID:    "L1",
				StationID: "S1",
				UserID:    string(rune('A' + i)),
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "第 %d 个并发上报失败", i)
	}

	counter, err := svc.GetLineCounter("L1", "S1")
	require.NoError(t, err)
	assert.Equal(t, n, counter.Counter)
	assert.Len(t, counter.Users, n)
}

func TestRetractLineSymmetry(t *testing.T) {
	for _, order := range [][]string{{"a", "b"}, {"b", "a"}} {
		store := newMemStore()
		svc := NewCounterService(store, nil)

		_, _, err := svc.ReportLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "a"})
		require.NoError(t, err)
		_, _, err = svc.ReportLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "b"})
		require.NoError(t, err)

		counter, deleted, err := svc.RetractLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: order[0]})
		require.NoError(t, err)
		assert.False(t, deleted)
		assert.Equal(t, 1, counter.Counter)
		assert.Equal(t, []string{order[1]}, counter.Users)

		_, deleted, err = svc.RetractLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: order[1]})
		require.NoError(t, err)
		assert.True(t, deleted)

		// 无论撤销顺序如何，最终记录都不存在
		_, err = svc.GetLineCounter("L1", "S1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	}
}

func TestRetractLineUnknownKey(t *testing.T) {
	svc := NewCounterService(newMemStore(), nil)

	_, _, err := svc.RetractLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "u1"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// racingStore 模拟创建竞态：首次创建返回唯一键冲突，同时让并发胜者的记录出现
type racingStore struct {
	*memStore
	raced bool
}

func (s *racingStore) CreateLineCounterIfAbsent(key counterkey.LineKey, firstUserID string) (*model.LineCounter, error) {
	if !s.raced {
		s.raced = true
		// 并发请求抢先创建了记录
		_, err := s.memStore.CreateLineCounterIfAbsent(key, "winner")
		if err != nil {
			return nil, err
		}
		return nil, repository.ErrDuplicateKey
	}
	return s.memStore.CreateLineCounterIfAbsent(key, firstUserID)
}

// 创建失败的上报必须转为对已有记录的自增，不能丢失
func TestReportLineRecoversFromCreationRace(t *testing.T) {
	store := &racingStore{memStore: newMemStore()}
	svc := NewCounterService(store, nil)

	counter, added, err := svc.ReportLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "loser"})
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, counter.Counter)
	assert.ElementsMatch(t, []string{"winner", "loser"}, counter.Users)
}

// hostileStore 始终制造竞态，验证重试耗尽后的失败路径
type hostileStore struct {
	*memStore
	applyCalls  int
	createCalls int
}

func (s *hostileStore) ApplyLineReport(key counterkey.LineKey, userID string) (*model.LineCounter, bool, error) {
	s.applyCalls++
	return nil, false, repository.ErrNotFound
}

func (s *hostileStore) CreateLineCounterIfAbsent(key counterkey.LineKey, firstUserID string) (*model.LineCounter, error) {
	s.createCalls++
	return nil, repository.ErrDuplicateKey
}

func TestReportLineRaceRetriesExhausted(t *testing.T) {
	store := &hostileStore{memStore: newMemStore()}
	svc := NewCounterService(store, nil)

	_, _, err := svc.ReportLine(&model.LineReportRequest{LineID: "L1", StationID: "S1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrRaceUnresolved)
	assert.Equal(t, maxRaceRetries, store.applyCalls)
	assert.Equal(t, maxRaceRetries, store.createCalls)
}

// racingRouteStore 模拟路线计数的创建竞态：首次创建返回唯一键冲突，同时让并发胜者的记录出现
type racingRouteStore struct {
	*memStore
	raced bool
}

func (s *racingRouteStore) CreateRouteCounterIfAbsent(key counterkey.RouteKey, meta model.RouteCounterMeta, firstUserID string) (*model.RouteCounter, error) {
	if !s.raced {
		s.raced = true
		// 并发请求抢先创建了记录
		_, err := s.memStore.CreateRouteCounterIfAbsent(key, meta, "winner")
		if err != nil {
			return nil, err
		}
		return nil, repository.ErrDuplicateKey
	}
	return s.memStore.CreateRouteCounterIfAbsent(key, meta, firstUserID)
}

// 路线计数创建失败的上报必须转为对已有记录的自增，不能丢失
func TestReportRouteRecoversFromCreationRace(t *testing.T) {
	store := &racingRouteStore{memStore: newMemStore()}
	svc := NewCounterService(store, nil)

	counter, err := svc.ReportRoute(&model.RouteReportRequest{
		StationID:     "12345",
		StationName:   "中央车站",
		LineShortName: "480",
		RouteMkt:      "10480",
		UserID:        "loser",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, counter.Counter)
	assert.ElementsMatch(t, []string{"winner", "loser"}, counter.Users)
}

// hostileRouteStore 始终制造路线计数竞态，验证重试耗尽后的失败路径
type hostileRouteStore struct {
	*memStore
	applyCalls  int
	createCalls int
}

func (s *hostileRouteStore) ApplyRouteReport(key counterkey.RouteKey, userID string) (*model.RouteCounter, bool, error) {
	s.applyCalls++
	return nil, false, repository.ErrNotFound
}

func (s *hostileRouteStore) CreateRouteCounterIfAbsent(key counterkey.RouteKey, meta model.RouteCounterMeta, firstUserID string) (*model.RouteCounter, error) {
	s.createCalls++
	return nil, repository.ErrDuplicateKey
}

func TestReportRouteRaceRetriesExhausted(t *testing.T) {
	store := &hostileRouteStore{memStore: newMemStore()}
	svc := NewCounterService(store, nil)

	_, err := svc.ReportRoute(&model.RouteReportRequest{
		StationID:     "12345",
		StationName:   "中央车站",
		LineShortName: "480",
		RouteMkt:      "10480",
		UserID:        "u1",
	})
	assert.ErrorIs(t, err, ErrRaceUnresolved)
	assert.Equal(t, maxRaceRetries, store.applyCalls)
	assert.Equal(t, maxRaceRetries, store.createCalls)
}

func TestReportRouteAndProjection(t *testing.T) {
	store := newMemStore()
	svc := NewCounterService(store, nil)

	request := &model.RouteReportRequest{
		StationID:     "12345",
		StationName:   "中央车站",
		LineShortName: "480",
		RouteMkt:      float64(10480),
		UserID:        "u1",
	}

	counter, err := svc.ReportRoute(request)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Counter)

	// 重复上报是无操作而不是错误
	counter, err = svc.ReportRoute(request)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.Counter)
	assert.Equal(t, []string{"u1"}, counter.Users)

	projection, err := svc.GetRouteCounterProjection("12345", "10480", "")
	require.NoError(t, err)
	assert.Equal(t, 1, projection.Counter)
	assert.Equal(t, 1, projection.UsersCount)
	assert.True(t, projection.ShouldStop)
}

func TestReportRouteValidation(t *testing.T) {
	svc := NewCounterService(newMemStore(), nil)

	_, err := svc.ReportRoute(&model.RouteReportRequest{
		StationID: "12345", StationName: "", LineShortName: "480", RouteMkt: "10480", UserID: "u1",
	})
	assert.ErrorIs(t, err, counterkey.ErrValidation)

	_, err = svc.ReportRoute(&model.RouteReportRequest{
		StationID: "abc", StationName: "中央车站", LineShortName: "480", RouteMkt: "10480", UserID: "u1",
	})
	assert.ErrorIs(t, err, counterkey.ErrValidation)
}

// 未知键的读侧投影返回全零而不是错误
func TestRouteProjectionUnknownKey(t *testing.T) {
	svc := NewCounterService(newMemStore(), nil)

	projection, err := svc.GetRouteCounterProjection("999", "888", "")
	require.NoError(t, err)
	assert.Equal(t, model.CounterProjection{Counter: 0, UsersCount: 0, ShouldStop: false}, projection)
}

func TestProjectRouteCounterBoundary(t *testing.T) {
	assert.False(t, ProjectRouteCounter(nil).ShouldStop)
	assert.False(t, ProjectRouteCounter(&model.RouteCounter{Counter: 0}).ShouldStop)
	assert.True(t, ProjectRouteCounter(&model.RouteCounter{Counter: 1, Users: []string{"u1"}}).ShouldStop)
}
