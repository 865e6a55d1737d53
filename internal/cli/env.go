// Package cli holds helpers shared by the command entry points.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// envFileVar overrides the .env location; it beats the --env flag.
const envFileVar = "TLSERVER_ENV_FILE"

// EnvLoader resolves and loads a dotenv file. Values already present in the
// process environment are never overwritten, keeping real environment
// variables above the dotenv layer.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag on fs and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := fs.String("env", defaultPath, description)
	return &EnvLoader{
		value:       value,
		defaultPath: defaultPath,
	}
}

// Load loads the resolved dotenv file and returns its path. A missing file
// is an error only when it was requested explicitly; the default .env is
// optional.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	if custom := strings.TrimSpace(os.Getenv(envFileVar)); custom != "" {
		if err := godotenv.Load(custom); err != nil {
			return "", fmt.Errorf("load env file from %s=%s: %w", envFileVar, custom, err)
		}
		return custom, nil
	}

	requested := strings.TrimSpace(derefString(l.value))
	if requested == "" {
		requested = l.defaultPath
	}

	if err := godotenv.Load(requested); err != nil {
		if requested == l.defaultPath && os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("load env file from %s: %w", requested, err)
	}
	return requested, nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
