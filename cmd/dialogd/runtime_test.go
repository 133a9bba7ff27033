package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dialogd/internal/logging"
	"github.com/fyrsmithlabs/dialogd/internal/telemetry"
)

func TestReportTelemetryHealth(t *testing.T) {
	tests := []struct {
		name   string
		health telemetry.HealthStatus
		warned bool
	}{
		{"healthy", telemetry.HealthStatus{Healthy: true}, false},
		{"degraded", telemetry.HealthStatus{Healthy: true, Degraded: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := logging.NewTestLogger()
			reportTelemetryHealth(context.Background(), tl.Logger, tt.health)
			if tt.warned {
				tl.AssertLogged(t, zap.WarnLevel, "telemetry degraded")
			} else {
				tl.AssertNotLogged(t, zap.WarnLevel, "telemetry degraded")
			}
		})
	}
}
