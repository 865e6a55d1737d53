package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every tlserver environment variable.
	EnvPrefix = "TLSERVER_"
	// NestedDelimiter joins nested field names in env vars and secret file
	// names, e.g. TLSERVER_TRANSLATORS__0__PORT.
	NestedDelimiter = "__"

	configFileName = "config.json"
)

// Runtime holds process-level settings that live outside the layered config
// document: they select how the document itself is found and reported.
type Runtime struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ConfigPath  string `envconfig:"CONFIG_PATH" default:""`
	SecretsDir  string `envconfig:"SECRETS_DIR" default:""`
}

func LoadRuntime() (*Runtime, error) {
	var rt Runtime
	if err := envconfig.Process("tlserver", &rt); err != nil {
		return nil, err
	}
	return &rt, nil
}

// reserved env suffixes belong to Runtime and never reach the document.
var reservedEnvKeys = map[string]struct{}{
	"ENVIRONMENT": {},
	"LOG_LEVEL":   {},
	"CONFIG_PATH": {},
	"SECRETS_DIR": {},
	"ENV_FILE":    {},
}

// LoadOptions selects the configuration sources.
type LoadOptions struct {
	// Overrides is the explicit layer with the highest precedence,
	// typically built from command-line flags.
	Overrides map[string]any

	// ConfigPath short-circuits config file discovery when set.
	ConfigPath string

	// SecretsDir points at a directory of per-field secret files, the
	// lowest-precedence layer.
	SecretsDir string
}

// Load merges all configuration layers and returns a fully validated
// AppConfig. Precedence, highest first: explicit overrides, environment,
// dotenv (loaded into the environment beforehand without overwriting it),
// config file, secrets directory. Any violation aborts the load; every
// violated field is reported.
func Load(opts LoadOptions) (*AppConfig, error) {
	doc := map[string]any{}

	if opts.SecretsDir != "" {
		applySecretsLayer(doc, opts.SecretsDir)
	}

	if path := findConfigPath(opts.ConfigPath); path != "" {
		fileDoc, err := readConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		doc = deepMerge(doc, fileDoc)
	}

	applyEnvLayer(doc, os.Environ())

	doc = deepMerge(doc, opts.Overrides)

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode merged configuration: %w", err)
	}

	// Override values arrive as native Go types; round-trip through JSON so
	// the schema validator only sees encoding/json value kinds.
	var normalized any
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	if err := decoder.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("normalize merged configuration: %w", err)
	}
	if ve := validateShape(normalized); ve != nil {
		return nil, ve
	}

	var cfg AppConfig
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := validate(&cfg).orNil(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigPath resolves the config file: explicit override, then the
// platform config home, then the working directory. Missing or unreadable
// candidates are silently skipped.
func findConfigPath(explicit string) string {
	var candidates []string
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "tlserver", configFileName))
	}
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		candidates = append(candidates, filepath.Join(appdata, "tlserver", configFileName))
	}
	candidates = append(candidates, configFileName)

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return candidate
	}
	return ""
}

func readConfigFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(raw)))
	decoder.UseNumber()

	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("trailing content after JSON document")
	}
	return doc, nil
}

// applyEnvLayer overlays TLSERVER_-prefixed variables onto the document.
// Nested keys are joined with the delimiter; numeric segments index list
// elements; values are parsed as JSON scalars with a plain-string fallback.
func applyEnvLayer(doc map[string]any, environ []string) {
	keys := make([]string, 0, 8)
	values := make(map[string]string, 8)

	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		suffix := strings.TrimPrefix(name, EnvPrefix)
		if _, reserved := reservedEnvKeys[suffix]; reserved || suffix == "" {
			continue
		}
		keys = append(keys, suffix)
		values[suffix] = value
	}

	sort.Strings(keys)
	for _, key := range keys {
		segments := strings.Split(strings.ToLower(key), NestedDelimiter)
		setPath(doc, segments, parseScalar(values[key]))
	}
}

// applySecretsLayer reads one file per field from the secrets directory.
// File names follow the same nested-key convention as env vars, without the
// prefix. Unreadable entries are skipped.
func applySecretsLayer(doc map[string]any, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		segments := strings.Split(strings.ToLower(entry.Name()), NestedDelimiter)
		setPath(doc, segments, parseScalar(strings.TrimSpace(string(raw))))
	}
}

const maxIndexedListLength = 1000

// setPath writes value at the nested key path, creating intermediate maps
// and extending lists as needed.
func setPath(doc map[string]any, keys []string, value any) {
	if len(keys) == 0 {
		return
	}
	doc[keys[0]] = setPathNode(doc[keys[0]], keys[1:], value)
}

func setPathNode(node any, keys []string, value any) any {
	if len(keys) == 0 {
		return value
	}

	key := keys[0]
	if idx, err := strconv.Atoi(key); err == nil && idx >= 0 && idx < maxIndexedListLength {
		list, _ := node.([]any)
		for len(list) <= idx {
			list = append(list, nil)
		}
		list[idx] = setPathNode(list[idx], keys[1:], value)
		return list
	}

	m, ok := node.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	m[key] = setPathNode(m[key], keys[1:], value)
	return m
}

// parseScalar interprets a raw env/secret value as a JSON value, falling
// back to the literal string.
func parseScalar(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return raw
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return raw
	}
	return value
}

// deepMerge merges src into dst: maps combine recursively, everything else
// (including lists) replaces.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				dst[key] = deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}
