package model

import (
	"fmt"
	"time"
)

// LineCounter 线路-车站计数模型
// Counter 字段始终等于成员数量，由仓库在同一事务内维护
type LineCounter struct {
	ID        int64     `json:"id"`
	LineID    string    `json:"lineId"`
	StationID string    `json:"stationId"`
	Counter   int       `json:"counter"`
	Users     []string  `json:"users"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RouteCounter 车站-线路市场编号计数模型
type RouteCounter struct {
	ID             int64     `json:"id"`
	StationID      int64     `json:"stationId"`
	StationName    string    `json:"stationName"`
	LineShortName  string    `json:"lineShortName"`
	LineLongName   string    `json:"lineLongName,omitempty"`
	AgencyName     string    `json:"agencyName,omitempty"`
	RouteMkt       int64     `json:"route_mkt"`
	RouteDirection string    `json:"routeDirection,omitempty"`
	Counter        int       `json:"counter"`
	Users          []string  `json:"users"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RouteCounterMeta 创建路线计数时附带的展示元数据
type RouteCounterMeta struct {
	StationName   string `json:"stationName"`
	LineShortName string `json:"lineShortName"`
	LineLongName  string `json:"lineLongName,omitempty"`
	AgencyName    string `json:"agencyName,omitempty"`
}

// CounterProjection 计数读侧投影，供客户端判断是否继续等待
type CounterProjection struct {
	Counter    int  `json:"counter"`
	UsersCount int  `json:"usersCount"`
	ShouldStop bool `json:"shouldStop"`
}

// LineReportRequest 线路计数上报/撤销请求
type LineReportRequest struct {
	LineID    string `json:"lineId"`
	StationID string `json:"stationId"`
	UserID    string `json:"userId"`
}

// RouteReportRequest 路线计数上报请求
type RouteReportRequest struct {
	StationID      interface{} `json:"stationId"`
	StationName    string      `json:"stationName"`
	LineShortName  string      `json:"lineShortName"`
	LineLongName   string      `json:"lineLongName"`
	AgencyName     string      `json:"agencyName"`
	RouteMkt       interface{} `json:"route_mkt"`
	RouteDirection string      `json:"routeDirection"`
	UserID         string      `json:"userId"`
}

// Station 车站目录模型
type Station struct {
	ID   int64     `json:"id"`
	Date time.Time `json:"date"`
	Code int64     `json:"code"`
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Name string    `json:"name"`
	City string    `json:"city"`
}

// BusRoute 线路-途经车站文档，来自静态数据集
type BusRoute struct {
	BusLineID string  `json:"busLineId"`
	Stations  []int64 `json:"stations"`
}

// CounterEvent Kafka计数变更事件
type CounterEvent struct {
	Variant    string    `json:"variant"` // line 或 route
	Action     string    `json:"action"`  // report 或 retract
	LineID     string    `json:"lineId,omitempty"`
	StationID  string    `json:"stationId"`
	RouteMkt   int64     `json:"route_mkt,omitempty"`
	UserID     string    `json:"userId"`
	Counter    int       `json:"counter"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ReportLog 上报日志，由Kafka消费者写入
type ReportLog struct {
	ID         int64     `json:"id"`
	Variant    string    `json:"variant"`
	Action     string    `json:"action"`
	CounterKey string    `json:"counterKey"`
	UserID     string    `json:"userId"`
	ReportedAt time.Time `json:"reportedAt"`
}

// ReportLogFromEvent 把计数变更事件折叠成一条上报日志
// 复合键的格式与Kafka消息Key保持一致，便于按键对账
func ReportLogFromEvent(event *CounterEvent) *ReportLog {
	counterKey := fmt.Sprintf("%s:%d", event.StationID, event.RouteMkt)
	if event.Variant == "line" {
		counterKey = fmt.Sprintf("%s:%s", event.LineID, event.StationID)
	}

	return &ReportLog{
		Variant:    event.Variant,
		Action:     event.Action,
		CounterKey: counterKey,
		UserID:     event.UserID,
		ReportedAt: event.OccurredAt,
	}
}
