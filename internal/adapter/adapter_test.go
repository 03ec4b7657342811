package adapter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/catalog-sync/internal/ratelimit"
)

// fastConfig returns a client config that never waits long in tests
func fastConfig(t *testing.T) *ClientConfig {
	t.Helper()
	controller, err := ratelimit.NewRequestController(&ratelimit.RequestControllerConfig{
		RequestsPerSecond: 10000,
		Burst:             100,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
	})
	require.NoError(t, err)
	return &ClientConfig{Controller: controller, RequestTimeout: 2 * time.Second}
}

func jsonUnmarshal(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
