// Package testing prepares the environment shared by CampusDesk test
// binaries. Test packages import it for side effects.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// Values applied only when the variable is unset.
var defaults = map[string]string{
	"CAMPUSDESK_TEST_MODE": "1",
	"API_BASE_URL":         "http://127.0.0.1:0/api",
	"LOG_LEVEL":            "warn",
}

var once sync.Once

func prepare() {
	once.Do(func() {
		for key, value := range defaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	prepare()
}

// TestMain can be delegated to from packages that declare their own.
func TestMain(m *stdtesting.M) {
	prepare()
	os.Exit(m.Run())
}
