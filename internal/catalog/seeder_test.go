package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.json")
	data := `[
		{"id": 100, "code": 100, "lat": 32.08, "lon": 34.78, "name": "תחנה מרכזית", "city": "תל אביב"},
		{"id": 200, "code": 200, "lat": 31.78, "lon": 35.2, "name": "התחנה המרכזית", "city": "ירושלים"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	stations, err := LoadStations(path)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, int64(100), stations[0].ID)
	assert.Equal(t, "תל אביב", stations[0].City)
	assert.Equal(t, int64(200), stations[1].Code)
}

func TestLoadStationsMissingFile(t *testing.T) {
	_, err := LoadStations(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// 未持锁实例不能触碰数据库，Seed和SeedStations都必须直接跳过
func TestSeederSkipsWithoutLock(t *testing.T) {
	seeder := NewSeeder(nil, nil, false)

	index := BuildStationIndex(sampleRoutes())
	assert.NoError(t, seeder.Seed(index))
	assert.NoError(t, seeder.SeedStations(nil))
}
