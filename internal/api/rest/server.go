package rest

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/NathanMahpood/FinalProject-server/internal/counterkey"
	"github.com/NathanMahpood/FinalProject-server/internal/model"
	"github.com/NathanMahpood/FinalProject-server/internal/repository"
	"github.com/NathanMahpood/FinalProject-server/internal/service"
)

// Server REST API服务器
type Server struct {
	counterService *service.CounterService
	catalogService *service.CatalogService
	engine         *gin.Engine
}

func NewServer(counterService *service.CounterService, catalogService *service.CatalogService) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	// 请求日志中间件
	engine.Use(func(c *gin.Context) {
		log.Printf("%s %s", c.Request.Method, c.Request.URL.Path)
		c.Next()
	})

	s := &Server{
		counterService: counterService,
		catalogService: catalogService,
		engine:         engine,
	}
	s.registerRoutes()

	return s
}

// Engine 暴露底层引擎，测试时直接挂到httptest上
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// MountGraphQL 把GraphQL处理器挂到REST引擎下，共用同一个端口
func (s *Server) MountGraphQL(path string, api http.Handler, playground http.Handler) {
	s.engine.POST(path, gin.WrapH(api))
	s.engine.GET("/playground", gin.WrapH(playground))
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	counters := s.engine.Group("/counters")
	{
		counters.GET("", s.listLineCounters)
		counters.GET("/:lineId/:stationId", s.getLineCounter)
		counters.POST("/increment", s.incrementLineCounter)
		counters.DELETE("/decrement", s.decrementLineCounter)
	}

	routeCounter := s.engine.Group("/route-counter")
	{
		routeCounter.POST("", s.incrementRouteCounter)
		routeCounter.DELETE("/decrement", s.decrementRouteCounter)
		routeCounter.GET("/station", s.getRouteCounterProjection)
		routeCounter.GET("", s.listRouteCounters)
	}

	s.engine.GET("/stations", s.listStations)
	s.engine.GET("/stations/:stationId/lines", s.linesForStation)
	s.engine.GET("/routes", s.listRoutes)
	s.engine.GET("/routes/:busLineId/stations", s.stationsForRoute)
}

// incrementLineCounter POST /counters/increment
func (s *Server) incrementLineCounter(c *gin.Context) {
	var request model.LineReportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "请求体格式错误"})
		return
	}

	counter, added, err := s.counterService.ReportLine(&request)
	if err != nil {
		s.writeError(c, err, "更新计数失败")
		return
	}

	if !added {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "该用户已在此车站为该线路上报过",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "上报成功",
		"counterId": counter.ID,
	})
}

// decrementLineCounter DELETE /counters/decrement
func (s *Server) decrementLineCounter(c *gin.Context) {
	var request model.LineReportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "请求体格式错误"})
		return
	}

	counter, deleted, err := s.counterService.RetractLine(&request)
	if err != nil {
		s.writeError(c, err, "撤销上报失败")
		return
	}

	if deleted {
		c.JSON(http.StatusOK, gin.H{
			"message": "计数已删除（没有剩余上报用户）",
			"counter": nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "该用户已从计数中移除",
		"counter": counter,
	})
}

// listLineCounters GET /counters
func (s *Server) listLineCounters(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 100)
	offset := parseIntQuery(c, "offset", 0)

	counters, err := s.counterService.ListLineCounters(c.Query("line"), c.Query("station"), limit, offset)
	if err != nil {
		s.writeError(c, err, "查询计数列表失败")
		return
	}

	if counters == nil {
		counters = []*model.LineCounter{}
	}
	c.JSON(http.StatusOK, gin.H{
		"counters": counters,
		"count":    len(counters),
	})
}

// getLineCounter GET /counters/:lineId/:stationId
func (s *Server) getLineCounter(c *gin.Context) {
	counter, err := s.counterService.GetLineCounter(c.Param("lineId"), c.Param("stationId"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"message": "没有找到该线路和车站的计数",
				"counter": nil,
			})
			return
		}
		s.writeError(c, err, "查询计数失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"counter": counter})
}

// incrementRouteCounter POST /route-counter
func (s *Server) incrementRouteCounter(c *gin.Context) {
	var request model.RouteReportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "请求体格式错误"})
		return
	}

	counter, err := s.counterService.ReportRoute(&request)
	if err != nil {
		s.writeRouteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "路线计数更新成功",
		"counter":    counter.Counter,
		"usersCount": len(counter.Users),
	})
}

// decrementRouteCounter DELETE /route-counter/decrement
func (s *Server) decrementRouteCounter(c *gin.Context) {
	var request model.RouteReportRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "请求体格式错误"})
		return
	}

	counter, deleted, err := s.counterService.RetractRoute(
		request.StationID, request.RouteMkt, request.RouteDirection, request.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "没有找到该车站和路线的计数",
			})
			return
		}
		s.writeRouteError(c, err)
		return
	}

	if deleted {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "计数已删除（没有剩余上报用户）",
			"counter": nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "该用户已从计数中移除",
		"counter":    counter.Counter,
		"usersCount": len(counter.Users),
	})
}

// getRouteCounterProjection GET /route-counter/station
func (s *Server) getRouteCounterProjection(c *gin.Context) {
	stationID := c.Query("stationId")
	routeMkt := c.Query("route_mkt")

	if stationID == "" || routeMkt == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "stationId 和 route_mkt 是必填参数",
		})
		return
	}

	projection, err := s.counterService.GetRouteCounterProjection(stationID, routeMkt, c.Query("routeDirection"))
	if err != nil {
		s.writeRouteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"counter":    projection.Counter,
		"usersCount": projection.UsersCount,
		"shouldStop": projection.ShouldStop,
	})
}

// listRouteCounters GET /route-counter
func (s *Server) listRouteCounters(c *gin.Context) {
	counters, err := s.counterService.ListRouteCounters(100)
	if err != nil {
		s.writeRouteError(c, err)
		return
	}

	if counters == nil {
		counters = []*model.RouteCounter{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"counters": counters,
	})
}

// listStations GET /stations
func (s *Server) listStations(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 100)
	offset := parseIntQuery(c, "offset", 0)
	code := int64(parseIntQuery(c, "code", 0))

	stations, err := s.catalogService.ListStations(c.Query("city"), code, limit, offset)
	if err != nil {
		s.writeError(c, err, "查询车站目录失败")
		return
	}

	if stations == nil {
		stations = []*model.Station{}
	}
	c.JSON(http.StatusOK, gin.H{
		"stations": stations,
		"count":    len(stations),
	})
}

// linesForStation GET /stations/:stationId/lines
func (s *Server) linesForStation(c *gin.Context) {
	stationID, err := strconv.ParseInt(c.Param("stationId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "stationId 必须是数字"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stationId": stationID,
		"lines":     s.catalogService.LinesForStation(stationID),
	})
}

// stationsForRoute GET /routes/:busLineId/stations
func (s *Server) stationsForRoute(c *gin.Context) {
	busLineID := c.Param("busLineId")
	stations := s.catalogService.StationsForRoute(busLineID)
	if len(stations) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "没有找到该线路", "stations": []int64{}})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"busLineId": busLineID,
		"stations":  stations,
	})
}

// listRoutes GET /routes
func (s *Server) listRoutes(c *gin.Context) {
	routes, err := s.catalogService.ListRoutes()
	if err != nil {
		s.writeError(c, err, "查询线路列表失败")
		return
	}

	if routes == nil {
		routes = []*model.BusRoute{}
	}
	c.JSON(http.StatusOK, routes)
}

// writeError 把错误分类映射为HTTP状态码，存储层原始错误不直接返回给客户端
func (s *Server) writeError(c *gin.Context, err error, fallbackMessage string) {
	switch {
	case errors.Is(err, counterkey.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "计数记录不存在"})
	case errors.Is(err, service.ErrRaceUnresolved):
		log.Printf("计数竞态恢复失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "计数竞态恢复失败，请重试"})
	default:
		log.Printf("%s: %v", fallbackMessage, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": fallbackMessage})
	}
}

// writeRouteError 路线计数接口的错误映射，响应体带success标志
func (s *Server) writeRouteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, counterkey.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
	case errors.Is(err, service.ErrRaceUnresolved):
		log.Printf("计数竞态恢复失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "计数竞态恢复失败，请重试"})
	default:
		log.Printf("路线计数接口错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "服务器内部错误"})
	}
}

// parseIntQuery 解析整数查询参数，解析失败时使用默认值
func parseIntQuery(c *gin.Context, name string, defaultValue int) int {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

// Start 启动REST服务器
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("REST服务已启动，监听地址: %s", addr)
	return s.engine.Run(addr)
}
