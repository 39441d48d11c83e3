package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// WorkerSpec describes one well-known backend worker the dispatcher may
// wire up at startup, if its URL environment variable is present.
type WorkerSpec struct {
	Name          string // stable identifier, e.g. "go-1"
	EnvURL        string // e.g. "WORKER_GO_1_URL"
	EnvWeight     string // e.g. "WORKER_GO_1_WEIGHT"
	DefaultColor  string
	DefaultWeight int
	MaxLoad       int
}

// knownWorkers is the fixed catalog of worker slots the dispatcher looks
// for in the environment. A worker is only registered if its URL variable
// is set (§6: "Missing URL ⇒ worker is omitted").
var knownWorkers = []WorkerSpec{
	{Name: "go-1", EnvURL: "WORKER_GO_1_URL", EnvWeight: "WORKER_GO_1_WEIGHT", DefaultColor: "#00ADD8", DefaultWeight: 1, MaxLoad: 20},
	{Name: "go-2", EnvURL: "WORKER_GO_2_URL", EnvWeight: "WORKER_GO_2_WEIGHT", DefaultColor: "#00758F", DefaultWeight: 1, MaxLoad: 20},
	{Name: "python-1", EnvURL: "WORKER_PYTHON_1_URL", EnvWeight: "WORKER_PYTHON_1_WEIGHT", DefaultColor: "#3776AB", DefaultWeight: 1, MaxLoad: 20},
	{Name: "node-1", EnvURL: "WORKER_NODE_1_URL", EnvWeight: "WORKER_NODE_1_WEIGHT", DefaultColor: "#339933", DefaultWeight: 1, MaxLoad: 20},
	{Name: "rust-1", EnvURL: "WORKER_RUST_1_URL", EnvWeight: "WORKER_RUST_1_WEIGHT", DefaultColor: "#DEA584", DefaultWeight: 1, MaxLoad: 20},
}

// ResolvedWorker is a worker slot that had its URL variable set.
type ResolvedWorker struct {
	Name    string
	URL     string
	Color   string
	Weight  int
	MaxLoad int
}

// Config holds all configuration for the dispatcher process.
type Config struct {
	Port            int
	Algorithm       string
	AllowedOrigins  []string // empty slice means allow all (dev default)
	Workers         []ResolvedWorker
	HealthInterval  time.Duration
	BroadcastTick   time.Duration
	CircuitThresh   int64
	CircuitRecovery time.Duration
}

// Load reads configuration from environment variables with sane defaults,
// following the teacher's envStr/envInt helper pattern extended with
// envDuration for the tick intervals §6 and §4 call for.
func Load() *Config {
	c := &Config{
		Port:            envInt("PORT", 8000),
		Algorithm:       envStr("LB_ALGORITHM", "round-robin"),
		HealthInterval:  envDuration("HEALTH_INTERVAL_MS", 5*time.Second),
		BroadcastTick:   envDuration("BROADCAST_INTERVAL_MS", 1*time.Second),
		CircuitThresh:   int64(envInt("CIRCUIT_THRESHOLD", 3)),
		CircuitRecovery: envDuration("CIRCUIT_RECOVERY_MS", 30*time.Second),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}

	for _, spec := range knownWorkers {
		url := os.Getenv(spec.EnvURL)
		if url == "" {
			continue
		}
		weight := spec.DefaultWeight
		if w := envInt(spec.EnvWeight, spec.DefaultWeight); w > 0 {
			weight = w
		}
		c.Workers = append(c.Workers, ResolvedWorker{
			Name:    spec.Name,
			URL:     url,
			Color:   spec.DefaultColor,
			Weight:  weight,
			MaxLoad: spec.MaxLoad,
		})
	}

	return c
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
