package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv marks a process started by go test. Binaries then skip
// background side effects such as the janitor and the asynq client.
const TestModeEnv = "CAMPUSDESK_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeInit sync.Once
)

// InTestMode reports whether TestModeEnv is set to a true value.
func InTestMode() bool {
	testModeInit.Do(RefreshTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads TestModeEnv.
func RefreshTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.Store(on)
}
