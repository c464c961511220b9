// Package testing is imported for its side effect: it puts the process in
// test mode and fills in the secrets LoadConfig requires.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var testEnv = map[string]string{
	"WEBHOOK_SECRET": "test-webhook-secret",
	"OPERATOR_TOKEN": "test-operator-token",
}

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("STAYREV_TEST_MODE", "1")
		for key, value := range testEnv {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain lets packages that define no TestMain of their own reuse this one.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
