package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReportLogFromEvent(t *testing.T) {
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	lineLog := ReportLogFromEvent(&CounterEvent{
		Variant:    "line",
		Action:     "report",
		LineID:     "L1",
		StationID:  "S1",
		UserID:     "u1",
		OccurredAt: occurred,
	})
	assert.Equal(t, "L1:S1", lineLog.CounterKey)
	assert.Equal(t, "report", lineLog.Action)
	assert.Equal(t, occurred, lineLog.ReportedAt)

	routeLog := ReportLogFromEvent(&CounterEvent{
		Variant:    "route",
		Action:     "retract",
		StationID:  "12345",
		RouteMkt:   10480,
		UserID:     "u2",
		OccurredAt: occurred,
	})
	assert.Equal(t, "12345:10480", routeLog.CounterKey)
	assert.Equal(t, "u2", routeLog.UserID)
}
