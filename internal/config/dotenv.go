package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var (
	dotenvOnce    sync.Once
	dotenvPath    string
	dotenvLoadErr error
)

// EnsureDotEnv loads the first .env file found from the working directory
// up to the filesystem root. Variables already set in the environment win.
// Subsequent calls are no-ops.
func EnsureDotEnv() error {
	// Keep unit tests hermetic; opt in with GOTEST_LOAD_DOTENV=1.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	dotenvOnce.Do(func() {
		path, err := findDotEnv()
		if err != nil {
			dotenvLoadErr = err
			log.Debug().Err(err).Msg("itemsense: search .env failed")
			return
		}
		if path == "" {
			return
		}
		if err := godotenv.Load(path); err != nil {
			dotenvLoadErr = err
			log.Warn().Err(err).Str("dotenv", path).Msg("itemsense: load .env failed")
			return
		}
		dotenvPath = path
		log.Debug().Str("dotenv", path).Msg("itemsense: loaded .env")
	})
	return dotenvLoadErr
}

// DotEnvPath returns the .env path that was loaded, or "".
func DotEnvPath() string {
	return dotenvPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(wd, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}
