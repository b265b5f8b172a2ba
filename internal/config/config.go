// Package config loads and persists the .env-style configuration store
// described in spec.md §6/§4.10: a flat key/value map restricted to a
// known key set, read from (and written back to) a .env file in the
// current working directory or the project root.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Role identifies one of the LLM routing roles from §6.
type Role string

const (
	RoleInsightEngine    Role = "INSIGHT_ENGINE"
	RoleMediaEngine      Role = "MEDIA_ENGINE"
	RoleQueryEngine      Role = "QUERY_ENGINE"
	RoleReportEngine     Role = "REPORT_ENGINE"
	RoleForumHost        Role = "FORUM_HOST"
	RoleKeywordOptimizer Role = "KEYWORD_OPTIMIZER"
	RoleMindSpider       Role = "MINDSPIDER"
)

var llmRoles = []Role{
	RoleInsightEngine, RoleMediaEngine, RoleQueryEngine,
	RoleReportEngine, RoleForumHost, RoleKeywordOptimizer, RoleMindSpider,
}

// knownKeys is the recognized key set from §6. UpdateConfig silently drops
// any key not in this set.
var knownKeys = buildKnownKeys()

func buildKnownKeys() map[string]bool {
	m := map[string]bool{
		"HOST": true, "PORT": true,
		"DB_DIALECT": true, "DB_HOST": true, "DB_PORT": true, "DB_USER": true,
		"DB_PASSWORD": true, "DB_NAME": true, "DB_CHARSET": true,
		"TAVILY_API_KEY": true, "BOCHA_WEB_SEARCH_API_KEY": true, "BOCHA_BASE_URL": true,
		"MAX_REFLECTIONS": true, "MAX_PARAGRAPHS": true, "SEARCH_TIMEOUT": true,
		"MAX_CONTENT_LENGTH": true,
	}
	for _, role := range llmRoles {
		m[string(role)+"_API_KEY"] = true
		m[string(role)+"_BASE_URL"] = true
		m[string(role)+"_MODEL_NAME"] = true
	}
	return m
}

// IsKnownKey reports whether key is part of the recognized configuration
// surface (§6). UpdateConfig uses this to silently drop unknown keys.
func IsKnownKey(key string) bool {
	if knownKeys[key] {
		return true
	}
	return strings.HasPrefix(key, "DEFAULT_SEARCH_") && strings.HasSuffix(key, "LIMIT")
}

// RoleEndpoint is the per-role LLM routing configuration (§4.2, §6).
type RoleEndpoint struct {
	APIKey    string
	BaseURL   string
	ModelName string
}

// Config is the fully-resolved, in-memory configuration.
type Config struct {
	Host string
	Port string

	DBDialect, DBHost, DBPort, DBUser, DBPassword, DBName, DBCharset string

	TavilyAPIKey          string
	BochaWebSearchAPIKey  string
	BochaBaseURL          string

	MaxReflections   int
	MaxParagraphs    int
	SearchTimeout    int
	MaxContentLength int

	Roles map[Role]RoleEndpoint
}

// Default values per spec.md bounds (MAX_REFLECTIONS, MAX_PARAGRAPHS, ...).
const (
	DefaultMaxReflections   = 2
	DefaultMaxParagraphs    = 6
	DefaultSearchTimeout    = 30
	DefaultMaxContentLength = 4000
)

// envFilePath locates the .env file: current working directory first, then
// the project root (one level up), matching §6 ("preferred: cwd, or
// project root").
func envFilePath() string {
	if _, err := os.Stat(".env"); err == nil {
		return ".env"
	}
	if wd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(filepath.Dir(wd), ".env")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ".env"
}

// Load reads configuration from the environment, overlaid with the .env
// file if present (.env values override process environment, matching the
// teacher's godotenv.Overload() convention).
func Load() Config {
	path := envFilePath()
	if _, err := os.Stat(path); err == nil {
		_ = godotenv.Overload(path)
	}

	cfg := Config{
		Host: firstNonEmpty(os.Getenv("HOST"), "0.0.0.0"),
		Port: firstNonEmpty(os.Getenv("PORT"), "8090"),

		DBDialect:  os.Getenv("DB_DIALECT"),
		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     os.Getenv("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBCharset:  os.Getenv("DB_CHARSET"),

		TavilyAPIKey:         os.Getenv("TAVILY_API_KEY"),
		BochaWebSearchAPIKey: os.Getenv("BOCHA_WEB_SEARCH_API_KEY"),
		BochaBaseURL:         os.Getenv("BOCHA_BASE_URL"),

		MaxReflections:   envInt("MAX_REFLECTIONS", DefaultMaxReflections),
		MaxParagraphs:    envInt("MAX_PARAGRAPHS", DefaultMaxParagraphs),
		SearchTimeout:    envInt("SEARCH_TIMEOUT", DefaultSearchTimeout),
		MaxContentLength: envInt("MAX_CONTENT_LENGTH", DefaultMaxContentLength),

		Roles: make(map[Role]RoleEndpoint),
	}

	for _, role := range llmRoles {
		cfg.Roles[role] = RoleEndpoint{
			APIKey:    os.Getenv(string(role) + "_API_KEY"),
			BaseURL:   os.Getenv(string(role) + "_BASE_URL"),
			ModelName: os.Getenv(string(role) + "_MODEL_NAME"),
		}
	}

	return cfg
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ErrUnknownKey is a sentinel for an unrecognized configuration key. Per
// §4.10 Store.Update and the UpdateConfig HTTP operation drop unknown keys
// silently; neither returns this error, and nothing in this module does.
var ErrUnknownKey = fmt.Errorf("unknown configuration key")

// Store is the on-disk .env-style key/value store used by ReadConfig and
// UpdateConfig (§4.10).
type Store struct {
	path string
}

// NewStore opens (without requiring existence of) the .env file used for
// ReadConfig/UpdateConfig.
func NewStore() *Store {
	return &Store{path: envFilePath()}
}

// NewStoreAt opens a Store backed by an explicit path, for callers that
// don't want the default .env discovery (e.g. tests, orchestrator wiring
// with a configured data directory).
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Read returns every known key currently present in the store.
func (s *Store) Read() (map[string]string, error) {
	out := make(map[string]string)
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if IsKnownKey(k) {
			out[k] = strings.Trim(strings.TrimSpace(v), `"`)
		}
	}
	return out, scanner.Err()
}

// Update merges updates into the store, silently dropping unknown keys
// (§4.10: "unknown_key (silently dropped)"), and atomically rewrites the
// .env file (write-temp-then-rename, matching the Readiness Gate's
// baseline-persistence discipline in §9).
func (s *Store) Update(updates map[string]string) error {
	current, err := s.Read()
	if err != nil {
		return err
	}
	for k, v := range updates {
		if !IsKnownKey(k) {
			continue
		}
		current[k] = v
	}

	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", k, current[k])
	}

	dir := filepath.Dir(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".env.tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
