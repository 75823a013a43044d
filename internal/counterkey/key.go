package counterkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrValidation 请求字段缺失或格式错误
var ErrValidation = errors.New("请求参数校验失败")

// LineKey 线路-车站复合键
type LineKey struct {
	LineID    string
	StationID string
}

// RouteKey 车站-线路市场编号复合键，方向可选（为空表示不区分方向）
type RouteKey struct {
	StationID      int64
	RouteMkt       int64
	RouteDirection string
}

// ResolveLineKey 从原始请求字段解析线路计数键
// 等价请求必须落在同一个键上，因此这里统一做去空格归一化
func ResolveLineKey(lineID, stationID, userID string) (LineKey, string, error) {
	lineID = strings.TrimSpace(lineID)
	stationID = strings.TrimSpace(stationID)
	userID = strings.TrimSpace(userID)

	if lineID == "" || stationID == "" || userID == "" {
		return LineKey{}, "", fmt.Errorf("%w: 缺少必要参数 lineId, stationId, userId", ErrValidation)
	}

	return LineKey{LineID: lineID, StationID: stationID}, userID, nil
}

// ResolveRouteKey 从原始请求字段解析路线计数键
// stationId 和 route_mkt 可能以字符串或数字形式出现，统一强制转换为数字
func ResolveRouteKey(stationID, routeMkt interface{}, routeDirection string) (RouteKey, error) {
	sid, err := coerceInt64(stationID)
	if err != nil {
		return RouteKey{}, fmt.Errorf("%w: stationId 必须是数字: %v", ErrValidation, stationID)
	}

	mkt, err := coerceInt64(routeMkt)
	if err != nil {
		return RouteKey{}, fmt.Errorf("%w: route_mkt 必须是数字: %v", ErrValidation, routeMkt)
	}

	return RouteKey{
		StationID:      sid,
		RouteMkt:       mkt,
		RouteDirection: strings.TrimSpace(routeDirection),
	}, nil
}

// coerceInt64 把字符串或JSON数字统一转换为int64
func coerceInt64(v interface{}) (int64, error) {
	switch value := v.(type) {
	case nil:
		return 0, fmt.Errorf("值为空")
	case int64:
		return value, nil
	case int:
		return int64(value), nil
	case float64:
		// JSON数字默认解码为float64
		return int64(value), nil
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, fmt.Errorf("值为空")
		}
		parsed, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("解析数字失败: %w", err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("不支持的类型 %T", v)
	}
}
