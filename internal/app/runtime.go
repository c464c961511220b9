package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// testModeEnv makes the binaries exit before touching Postgres or Redis.
const testModeEnv = "STAYREV_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

// InTestMode reports whether STAYREV_TEST_MODE is set to a true value.
func InTestMode() bool {
	testModeOnce.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads the environment.
func RefreshTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(on)
}
