package config

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// RandomPort returns a port in [lo, hi). A nil rng uses the global source.
func RandomPort(rng *rand.Rand, lo, hi int) int {
	if rng == nil {
		return rand.IntN(hi-lo) + lo
	}
	return rng.IntN(hi-lo) + lo
}
