package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Warspoot/tlserver/internal/cli"
	"github.com/Warspoot/tlserver/internal/config"
)

// runCheckConfig loads every configuration layer and either prints the
// resolved document with secrets redacted, or lists every violation.
func runCheckConfig(args []string) int {
	fs := flag.NewFlagSet("check-config", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	configPath := fs.String("config", "", "Path to the config file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if _, err := envLoader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	rt, err := config.LoadRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read process settings: %v\n", err)
		return 1
	}

	resolvedConfigPath := *configPath
	if resolvedConfigPath == "" {
		resolvedConfigPath = rt.ConfigPath
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: resolvedConfigPath,
		SecretsDir: rt.SecretsDir,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode resolved config: %v\n", err)
		return 1
	}
	fmt.Println(string(encoded))
	fmt.Fprintln(os.Stderr, "configuration OK")
	return 0
}
