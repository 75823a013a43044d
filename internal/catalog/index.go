package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/NathanMahpood/FinalProject-server/internal/model"
)

// StationIndex 车站->线路只读索引
// 启动时从静态数据集构建一次，之后不再修改，因此读取不需要任何同步
type StationIndex struct {
	routes         []*model.BusRoute
	stationToLines map[int64][]string
}

// BuildStationIndex 从线路文档构建索引
func BuildStationIndex(routes []*model.BusRoute) *StationIndex {
	stationToLines := make(map[int64]map[string]struct{})

	for _, route := range routes {
		for _, stationID := range route.Stations {
			if _, ok := stationToLines[stationID]; !ok {
				stationToLines[stationID] = make(map[string]struct{})
			}
			stationToLines[stationID][route.BusLineID] = struct{}{}
		}
	}

	index := &StationIndex{
		routes:         routes,
		stationToLines: make(map[int64][]string, len(stationToLines)),
	}
	for stationID, lines := range stationToLines {
		ids := make([]string, 0, len(lines))
		for lineID := range lines {
			ids = append(ids, lineID)
		}
		sort.Strings(ids)
		index.stationToLines[stationID] = ids
	}

	return index
}

// LoadStationIndex 读取线路数据集文件并构建索引
func LoadStationIndex(path string) (*StationIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取线路数据集失败: %w", err)
	}

	var routes []*model.BusRoute
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("解析线路数据集失败: %w", err)
	}

	return BuildStationIndex(routes), nil
}

// LinesForStation 返回经过指定车站的全部线路
func (idx *StationIndex) LinesForStation(stationID int64) []string {
	lines, ok := idx.stationToLines[stationID]
	if !ok {
		return []string{}
	}
	// 返回副本，防止调用方修改内部切片
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// RouteForLine 返回指定线路途经的车站列表
func (idx *StationIndex) RouteForLine(busLineID string) []int64 {
	for _, route := range idx.routes {
		if route.BusLineID == busLineID {
			out := make([]int64, len(route.Stations))
			copy(out, route.Stations)
			return out
		}
	}
	return []int64{}
}

// Routes 返回全部线路文档
func (idx *StationIndex) Routes() []*model.BusRoute {
	return idx.routes
}

// Stats 索引统计信息
func (idx *StationIndex) Stats() (totalRoutes, totalStations int) {
	return len(idx.routes), len(idx.stationToLines)
}
