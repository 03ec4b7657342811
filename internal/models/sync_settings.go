package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Tunable keys in SyncStatus.Settings
const (
	SettingBatchSize                 = "batch_size"
	SettingMaxPages                  = "max_pages"
	SettingEarlyTerminationThreshold = "early_termination_threshold"
	SettingRateLimitDelay            = "rate_limit_delay"
	SettingAutoRecovery              = "auto_recovery"
	SettingValidationChecks          = "validation_checks"
	SettingIncludeInactive           = "include_inactive"
	SettingBulkThreshold             = "bulk_threshold"
)

// Snapshot keys written into SyncStatus.Settings by a running sync
const (
	SnapshotOperation         = "operation"
	SnapshotBulkOperationID   = "bulk_operation_id"
	SnapshotBulkStatus        = "bulk_status"
	SnapshotObjectCount       = "object_count"
	SnapshotPollChecks        = "poll_checks"
	SnapshotNextPage          = "next_page"
	SnapshotLastWarning       = "last_warning"
	SnapshotRecoveryAttempted = "recovery_attempted"
)

// Values of SnapshotOperation
const (
	OperationBatchSync    = "batch_sync"
	OperationBulkStarted  = "bulk_started"
	OperationBulkPolling  = "bulk_polling"
	OperationBulkLoading  = "bulk_loading"
	OperationBulkFinished = "bulk_finished"
)

// Hard floor on the page cap; stores configured lower still get this many pages.
const MinEffectiveMaxPages = 50

// SyncSettings is the typed view over the tunables stored in SyncStatus.Settings
type SyncSettings struct {
	BatchSize                 int
	MaxPages                  int
	EarlyTerminationThreshold int
	RateLimitDelay            time.Duration
	AutoRecovery              bool
	ValidationChecks          bool
	IncludeInactive           bool
	BulkThreshold             int
}

// DefaultSyncSettings returns the built-in defaults
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		BatchSize:                 250,
		MaxPages:                  500,
		EarlyTerminationThreshold: 10,
		RateLimitDelay:            500 * time.Millisecond,
		AutoRecovery:              false,
		ValidationChecks:          true,
		IncludeInactive:           false,
		BulkThreshold:             2000,
	}
}

// EffectiveMaxPages is the page cap actually enforced
func (s SyncSettings) EffectiveMaxPages() int {
	if s.MaxPages < MinEffectiveMaxPages {
		return MinEffectiveMaxPages
	}
	return s.MaxPages
}

// ParseSyncSettings reads tunables from a stored settings map, falling back
// to defaults for missing or malformed values. rate_limit_delay is stored in
// milliseconds.
func ParseSyncSettings(raw map[string]interface{}, defaults SyncSettings) SyncSettings {
	s := defaults
	if raw == nil {
		return s
	}

	if v, ok := intSetting(raw, SettingBatchSize); ok && v > 0 {
		s.BatchSize = v
	}
	if v, ok := intSetting(raw, SettingMaxPages); ok && v > 0 {
		s.MaxPages = v
	}
	if v, ok := intSetting(raw, SettingEarlyTerminationThreshold); ok && v > 0 {
		s.EarlyTerminationThreshold = v
	}
	if v, ok := intSetting(raw, SettingRateLimitDelay); ok && v >= 0 {
		s.RateLimitDelay = time.Duration(v) * time.Millisecond
	}
	if v, ok := boolSetting(raw, SettingAutoRecovery); ok {
		s.AutoRecovery = v
	}
	if v, ok := boolSetting(raw, SettingValidationChecks); ok {
		s.ValidationChecks = v
	}
	if v, ok := boolSetting(raw, SettingIncludeInactive); ok {
		s.IncludeInactive = v
	}
	if v, ok := intSetting(raw, SettingBulkThreshold); ok && v > 0 {
		s.BulkThreshold = v
	}
	return s
}

// ToMap renders the tunables in their stored form
func (s SyncSettings) ToMap() map[string]interface{} {
	return map[string]interface{}{
		SettingBatchSize:                 s.BatchSize,
		SettingMaxPages:                  s.MaxPages,
		SettingEarlyTerminationThreshold: s.EarlyTerminationThreshold,
		SettingRateLimitDelay:            s.RateLimitDelay.Milliseconds(),
		SettingAutoRecovery:              s.AutoRecovery,
		SettingValidationChecks:          s.ValidationChecks,
		SettingIncludeInactive:           s.IncludeInactive,
		SettingBulkThreshold:             s.BulkThreshold,
	}
}

// MergeSettings returns a copy of base with patch applied on top
func MergeSettings(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// IntSetting reads an integer snapshot value such as next_page
func IntSetting(raw map[string]interface{}, key string) (int, bool) {
	return intSetting(raw, key)
}

func intSetting(raw map[string]interface{}, key string) (int, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func boolSetting(raw map[string]interface{}, key string) (bool, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}
