package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalog-sync/internal/types"
)

func TestParseSyncSettings_Defaults(t *testing.T) {
	s := ParseSyncSettings(nil, DefaultSyncSettings())

	assert.Equal(t, 250, s.BatchSize)
	assert.Equal(t, 500, s.MaxPages)
	assert.Equal(t, 10, s.EarlyTerminationThreshold)
	assert.Equal(t, 500*time.Millisecond, s.RateLimitDelay)
	assert.False(t, s.AutoRecovery)
	assert.True(t, s.ValidationChecks)
	assert.False(t, s.IncludeInactive)
	assert.Equal(t, 2000, s.BulkThreshold)
}

func TestParseSyncSettings_FromJSONB(t *testing.T) {
	// JSONB decodes numbers as float64
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"batch_size": 100,
		"max_pages": 20,
		"early_termination_threshold": 3,
		"rate_limit_delay": 0,
		"auto_recovery": true,
		"validation_checks": "false",
		"operation": "bulk_started"
	}`), &raw))

	s := ParseSyncSettings(raw, DefaultSyncSettings())
	assert.Equal(t, 100, s.BatchSize)
	assert.Equal(t, 20, s.MaxPages)
	assert.Equal(t, 50, s.EffectiveMaxPages())
	assert.Equal(t, 3, s.EarlyTerminationThreshold)
	assert.Equal(t, time.Duration(0), s.RateLimitDelay)
	assert.True(t, s.AutoRecovery)
	assert.False(t, s.ValidationChecks)
}

func TestParseSyncSettings_IgnoresGarbage(t *testing.T) {
	raw := map[string]interface{}{
		SettingBatchSize:        "lots",
		SettingMaxPages:         -4,
		SettingValidationChecks: []string{"x"},
	}
	s := ParseSyncSettings(raw, DefaultSyncSettings())
	assert.Equal(t, DefaultSyncSettings(), s)
}

func TestSyncSettings_RoundTripThroughMap(t *testing.T) {
	in := DefaultSyncSettings()
	in.MaxPages = 800
	in.AutoRecovery = true

	out := ParseSyncSettings(in.ToMap(), SyncSettings{})
	assert.Equal(t, in, out)
	assert.Equal(t, 800, out.EffectiveMaxPages())
}

func TestMergeSettings(t *testing.T) {
	base := map[string]interface{}{SettingBatchSize: 50, SnapshotOperation: OperationBatchSync}
	merged := MergeSettings(base, map[string]interface{}{SnapshotOperation: OperationBulkStarted})

	assert.Equal(t, OperationBulkStarted, merged[SnapshotOperation])
	assert.Equal(t, 50, merged[SettingBatchSize])
	assert.Equal(t, OperationBatchSync, base[SnapshotOperation], "base must not be mutated")
}

func TestSyncStatus_IsRunning(t *testing.T) {
	now := time.Now()
	st := NewSyncStatus("acct", types.PlatformShopify)
	assert.False(t, st.IsRunning(now, time.Hour))

	st.Status = types.SyncStateInProgress
	st.UpdatedAt = now.Add(-10 * time.Minute)
	assert.True(t, st.IsRunning(now, time.Hour))
	assert.False(t, st.IsRunning(now, 5*time.Minute), "stale run can be taken over")
	assert.True(t, st.IsRunning(now, 0))
}

func TestBulkOperation_IsEmptyExport(t *testing.T) {
	zero := int64(0)
	some := int64(12)

	assert.True(t, (&BulkOperation{State: types.BulkStateCompleted, ObjectCount: &zero}).IsEmptyExport())
	assert.False(t, (&BulkOperation{State: types.BulkStateCompleted}).IsEmptyExport())
	assert.False(t, (&BulkOperation{State: types.BulkStateCompleted, ObjectCount: &some}).IsEmptyExport())
	assert.False(t, (&BulkOperation{State: types.BulkStateRunning, ObjectCount: &zero}).IsEmptyExport())

	snap := (&BulkOperation{ID: "gid://shopify/BulkOperation/7", State: types.BulkStateRunning, ObjectCount: &some}).Snapshot()
	assert.Equal(t, "running", snap[SnapshotBulkStatus])
	assert.Equal(t, int64(12), snap[SnapshotObjectCount])
}
