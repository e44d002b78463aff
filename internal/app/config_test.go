package app

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyakuten/llmoradar/internal/domain"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAdmissionPolicy(), cfg.Admission)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Diagnosis.AnalysisTimeout)
	assert.Equal(t, 5*time.Second, cfg.Diagnosis.MinFormFillTime)
	assert.Equal(t, 3, cfg.Notify.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Notify.RetryDelay)
	assert.Equal(t, "X-Admin-Key", cfg.Server.AdminHeader)
	assert.Equal(t, DefaultTrustedProxies, cfg.Server.TrustedProxies)
}

func TestValidateRejectsInconsistentPolicy(t *testing.T) {
	tests := []struct {
		field string
		mut   func(p *domain.AdmissionPolicy)
	}{
		{"admission.daily_max", func(p *domain.AdmissionPolicy) { p.DailyMax = p.EmergencyThreshold + 1 }},
		{"admission.origin_daily_max", func(p *domain.AdmissionPolicy) { p.OriginDailyMax = 1 }},
		{"admission.risk_threshold", func(p *domain.AdmissionPolicy) { p.RiskThreshold = 101 }},
		{"admission.cost_alert_risk", func(p *domain.AdmissionPolicy) { p.CostAlertRisk = 50 }},
		{"admission.cost_alert_ratio", func(p *domain.AdmissionPolicy) { p.CostAlertRatio = 1.5 }},
		{"admission.retention", func(p *domain.AdmissionPolicy) { p.Retention = time.Hour }},
	}

	for _, tc := range tests {
		t.Run(tc.field, func(t *testing.T) {
			p := domain.DefaultAdmissionPolicy()
			tc.mut(&p)
			err := ValidatePolicy(p)
			var cve *ConfigValidationError
			require.ErrorAs(t, err, &cve)
			assert.Equal(t, tc.field, cve.Field)
		})
	}
}

func TestValidateDrivers(t *testing.T) {
	resetViper(t)
	viper.Set("store.driver", "etcd")

	_, err := Load()
	var cve *ConfigValidationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, "store.driver", cve.Field)
	assert.Contains(t, err.Error(), "etcd")
}

func TestEnvOverride(t *testing.T) {
	resetViper(t)
	BindEnv()
	t.Setenv("LLMORADAR_ADMISSION_DAILY_MAX", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(50), cfg.Admission.DailyMax)
}

func TestConfigWatcherReload(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "llmoradar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("admission:\n  origin_hourly_max: 5\n"), 0o600))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)
	holder := NewPolicyHolder(cfg.Admission)
	assert.Equal(t, 5, holder.Policy().OriginHourlyMax)

	var reloads atomic.Int32
	w := NewConfigWatcher(ConfigWatcherOptions{
		ConfigPath: path,
		Policy:     holder,
		OnReload:   []ReloadFunc{func(context.Context, *Config) { reloads.Add(1) }},
	})
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("admission:\n  origin_hourly_max: 0\n"), 0o600))
	_, err = w.Reload(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 5, holder.Policy().OriginHourlyMax, "invalid reload keeps the previous policy")

	require.NoError(t, os.WriteFile(path, []byte("admission:\n  origin_hourly_max: 2\n  risk_threshold: 60\n"), 0o600))
	_, err = w.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, holder.Policy().OriginHourlyMax)
	assert.Equal(t, 60, holder.Policy().RiskThreshold)
	assert.Equal(t, int32(1), reloads.Load())
}
