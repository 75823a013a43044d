package graph

import (
	"context"
	"net/http"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/NathanMahpood/FinalProject-server/internal/model"
	"github.com/NathanMahpood/FinalProject-server/internal/service"
)

// GraphQLServer GraphQL服务器，挂在REST引擎下提供读查询和上报变更
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

// GraphQL Schema定义
const schemaString = `
type LineCounter {
  id: ID!
  lineId: String!
  stationId: String!
  counter: Int!
  users: [String!]!
  updatedAt: String!
}

type RouteCounterStatus {
  counter: Int!
  usersCount: Int!
  shouldStop: Boolean!
}

type ReportResponse {
  success: Boolean!
  message: String!
  counter: Int!
  usersCount: Int!
}

type Query {
  # 查询单个线路计数
  lineCounter(lineId: String!, stationId: String!): LineCounter

  # 按过滤条件查询线路计数列表
  lineCounters(lineId: String, stationId: String, limit: Int, offset: Int): [LineCounter!]!

  # 路线计数读侧投影，记录不存在时返回全零
  routeCounterStatus(stationId: String!, routeMkt: String!, routeDirection: String): RouteCounterStatus!
}

type Mutation {
  # 线路计数上报
  reportLine(lineId: String!, stationId: String!, userId: String!): ReportResponse!

  # 撤销线路计数上报
  retractLine(lineId: String!, stationId: String!, userId: String!): ReportResponse!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewGraphQLServer 创建新的GraphQL服务器
func NewGraphQLServer(counterService *service.CounterService) *GraphQLServer {
	resolver := NewResolver(counterService)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	handler := &relay.Handler{Schema: schema}

	return &GraphQLServer{
		schema:   schema,
		handler:  handler,
		resolver: resolver,
	}
}

// Handler GraphQL API处理器
func (s *GraphQLServer) Handler() http.Handler {
	return s.handler
}

// PlaygroundHandler GraphQL Playground页面
func (s *GraphQLServer) PlaygroundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML))
	})
}

// Resolver GraphQL解析器
type Resolver struct {
	counterService *service.CounterService
}

func NewResolver(counterService *service.CounterService) *Resolver {
	return &Resolver{counterService: counterService}
}

// LineCounter 查询单个线路计数
func (r *Resolver) LineCounter(ctx context.Context, args struct {
	LineID    string
	StationID string
}) (*LineCounterResolver, error) {
	counter, err := r.counterService.GetLineCounter(args.LineID, args.StationID)
	if err != nil {
		// 记录不存在时返回null而不是错误
		return nil, nil
	}
	return &LineCounterResolver{counter: counter}, nil
}

// LineCounters 按过滤条件查询线路计数列表
func (r *Resolver) LineCounters(ctx context.Context, args struct {
	LineID    *string
	StationID *string
	Limit     *int32
	Offset    *int32
}) ([]*LineCounterResolver, error) {
	lineID := ""
	if args.LineID != nil {
		lineID = *args.LineID
	}
	stationID := ""
	if args.StationID != nil {
		stationID = *args.StationID
	}
	limit := 100
	if args.Limit != nil {
		limit = int(*args.Limit)
	}
	offset := 0
	if args.Offset != nil {
		offset = int(*args.Offset)
	}

	counters, err := r.counterService.ListLineCounters(lineID, stationID, limit, offset)
	if err != nil {
		return nil, err
	}

	resolvers := make([]*LineCounterResolver, len(counters))
	for i, counter := range counters {
		resolvers[i] = &LineCounterResolver{counter: counter}
	}
	return resolvers, nil
}

// RouteCounterStatus 路线计数读侧投影
func (r *Resolver) RouteCounterStatus(ctx context.Context, args struct {
	StationID      string
	RouteMkt       string
	RouteDirection *string
}) (*RouteCounterStatusResolver, error) {
	direction := ""
	if args.RouteDirection != nil {
		direction = *args.RouteDirection
	}

	projection, err := r.counterService.GetRouteCounterProjection(args.StationID, args.RouteMkt, direction)
	if err != nil {
		return nil, err
	}
	return &RouteCounterStatusResolver{projection: projection}, nil
}

// ReportLine 线路计数上报
func (r *Resolver) ReportLine(ctx context.Context, args struct {
	LineID    string
	StationID string
	UserID    string
}) (*ReportResponseResolver, error) {
	request := &model.LineReportRequest{
		LineID:    args.LineID,
		StationID: args.StationID,
		UserID:    args.UserID,
	}

	counter, added, err := r.counterService.ReportLine(request)
	if err != nil {
		return &ReportResponseResolver{message: "上报失败: " + err.Error()}, nil
	}
	if !added {
		return &ReportResponseResolver{
			message:    "该用户已在此车站为该线路上报过",
			counter:    int32(counter.Counter),
			usersCount: int32(len(counter.Users)),
		}, nil
	}

	return &ReportResponseResolver{
		success:    true,
		message:    "上报成功",
		counter:    int32(counter.Counter),
		usersCount: int32(len(counter.Users)),
	}, nil
}

// RetractLine 撤销线路计数上报
func (r *Resolver) RetractLine(ctx context.Context, args struct {
	LineID    string
	StationID string
	UserID    string
}) (*ReportResponseResolver, error) {
	request := &model.LineReportRequest{
		LineID:    args.LineID,
		StationID: args.StationID,
		UserID:    args.UserID,
	}

	counter, deleted, err := r.counterService.RetractLine(request)
	if err != nil {
		return &ReportResponseResolver{message: "撤销失败: " + err.Error()}, nil
	}
	if deleted {
		return &ReportResponseResolver{
			success: true,
			message: "计数已删除（没有剩余上报用户）",
		}, nil
	}

	return &ReportResponseResolver{
		success:    true,
		message:    "该用户已从计数中移除",
		counter:    int32(counter.Counter),
		usersCount: int32(len(counter.Users)),
	}, nil
}

// LineCounterResolver 线路计数解析器
type LineCounterResolver struct {
	counter *model.LineCounter
}

func (r *LineCounterResolver) ID() graphql.ID {
	return graphql.ID(r.counter.LineID + ":" + r.counter.StationID)
}

func (r *LineCounterResolver) LineID() string {
	return r.counter.LineID
}

func (r *LineCounterResolver) StationID() string {
	return r.counter.StationID
}

func (r *LineCounterResolver) Counter() int32 {
	return int32(r.counter.Counter)
}

func (r *LineCounterResolver) Users() []string {
	return r.counter.Users
}

func (r *LineCounterResolver) UpdatedAt() string {
	return r.counter.UpdatedAt.Format(time.RFC3339)
}

// RouteCounterStatusResolver 路线计数投影解析器
type RouteCounterStatusResolver struct {
	projection model.CounterProjection
}

func (r *RouteCounterStatusResolver) Counter() int32 {
	return int32(r.projection.Counter)
}

func (r *RouteCounterStatusResolver) UsersCount() int32 {
	return int32(r.projection.UsersCount)
}

func (r *RouteCounterStatusResolver) ShouldStop() bool {
	return r.projection.ShouldStop
}

// ReportResponseResolver 上报响应解析器
type ReportResponseResolver struct {
	success    bool
	message    string
	counter    int32
	usersCount int32
}

func (r *ReportResponseResolver) Success() bool {
	return r.success
}

func (r *ReportResponseResolver) Message() string {
	return r.message
}

func (r *ReportResponseResolver) Counter() int32 {
	return r.counter
}

func (r *ReportResponseResolver) UsersCount() int32 {
	return r.usersCount
}

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Tahbulan Counter GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
    </style>
    <div class="loading">
      <span class="title">Tahbulan Counter GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`
