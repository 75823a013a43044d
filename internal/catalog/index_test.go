package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanMahpood/FinalProject-server/internal/model"
)

func sampleRoutes() []*model.BusRoute {
	return []*model.BusRoute{
		{BusLineID: "480", Stations: []int64{100, 200, 300}},
		{BusLineID: "402", Stations: []int64{200, 300, 400}},
		{BusLineID: "947", Stations: []int64{100, 400}},
	}
}

func TestBuildStationIndex(t *testing.T) {
	index := BuildStationIndex(sampleRoutes())

	totalRoutes, totalStations := index.Stats()
	assert.Equal(t, 3, totalRoutes)
	assert.Equal(t, 4, totalStations)

	// 线路列表按字典序排序
	assert.Equal(t, []string{"480", "947"}, index.LinesForStation(100))
	assert.Equal(t, []string{"402", "480"}, index.LinesForStation(200))
	assert.Equal(t, []string{"402", "947"}, index.LinesForStation(400))
}

func TestLinesForStationUnknown(t *testing.T) {
	index := BuildStationIndex(sampleRoutes())

	lines := index.LinesForStation(999)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
}

// 返回的切片是副本，调用方修改不影响索引
func TestLinesForStationReturnsCopy(t *testing.T) {
	index := BuildStationIndex(sampleRoutes())

	lines := index.LinesForStation(100)
	lines[0] = "篡改"

	assert.Equal(t, []string{"480", "947"}, index.LinesForStation(100))
}

func TestRouteForLine(t *testing.T) {
	index := BuildStationIndex(sampleRoutes())

	assert.Equal(t, []int64{100, 200, 300}, index.RouteForLine("480"))
	assert.Empty(t, index.RouteForLine("不存在"))
}

func TestLoadStationIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	data := `[{"busLineId":"480","stations":[100,200]},{"busLineId":"402","stations":[200]}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	index, err := LoadStationIndex(path)
	require.NoError(t, err)

	totalRoutes, totalStations := index.Stats()
	assert.Equal(t, 2, totalRoutes)
	assert.Equal(t, 2, totalStations)
	assert.Equal(t, []string{"402", "480"}, index.LinesForStation(200))
}

func TestLoadStationIndexMissingFile(t *testing.T) {
	_, err := LoadStationIndex(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
