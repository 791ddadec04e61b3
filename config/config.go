// ABOUTME: Configuration loader for the watcher control plane
// ABOUTME: Loads settings from environment variables with defaults, .env supported

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Datasource identifiers accepted in WATCHER_DATASOURCES.
const (
	DatasourceGnocchi    = "gnocchi"
	DatasourceMonasca    = "monasca"
	DatasourcePrometheus = "prometheus"
	DatasourceAetos      = "aetos"
	DatasourceInfluxDB   = "influxdb"
)

// Action execution rules for the applier.
const (
	ExecutionRuleHalt     = "halt"
	ExecutionRuleContinue = "continue"
)

type Config struct {
	// Server
	Port string

	// Decision engine
	Planner                string // plan scheduling algorithm
	ConductorTopic         string
	StatusTopic            string
	NotificationTopics     []string
	AuditWorkers           int           // parallel audit pipeline runs
	MaxGeneralWorkers      int           // collector / metric fetch pool
	ContinuousAuditInterval time.Duration
	InstanceListLimit      int // per-node server page limit; -1 means no limit

	// Applier
	ApplierConductorTopic string
	ApplierStatusTopic    string
	ApplierWorkers        int
	ActionExecutionRule   string // halt or continue
	ActionTimeout         time.Duration
	ActionMaxRetries      int
	ActionRetryInterval   time.Duration

	// Datasources
	Datasources     []string
	QueryMaxRetries int
	QueryInterval   time.Duration
	QueryTimeout    time.Duration
	QueryCacheTTL   time.Duration
	MetricMapPath   string

	// Prometheus / Aetos providers
	PrometheusHost        string
	PrometheusPort        string
	PrometheusFQDNLabel   string
	PrometheusUUIDLabel   string
	AetosHost             string
	AetosPort             string

	// Gnocchi / Monasca providers
	GnocchiEndpoint string
	GnocchiToken    string
	MonascaEndpoint string
	MonascaToken    string

	// InfluxDB provider
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string

	// vSphere compute client (optional; fakes are used when unset)
	VSphereHost       string
	VSphereUsername   string
	VSpherePassword   string
	VSphereDatacenter string
	VSphereInsecure   bool

	// Object store
	Store     string // memory or badger
	StorePath string

	// Service heartbeat
	HeartbeatInterval time.Duration

	// Diagnostics
	PrintThreadPoolStats bool
}

// VSphereConfigured returns true if vSphere credentials are set.
func (c *Config) VSphereConfigured() bool {
	return c.VSphereHost != "" && c.VSphereUsername != "" && c.VSpherePassword != "" && c.VSphereDatacenter != ""
}

func Load() (*Config, error) {
	// A .env next to the binary is optional; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("WATCHER_PORT", "8080"),

		Planner:                 getEnv("WATCHER_PLANNER", "default"),
		ConductorTopic:          getEnv("WATCHER_CONDUCTOR_TOPIC", "watcher.decision.control"),
		StatusTopic:             getEnv("WATCHER_STATUS_TOPIC", "watcher.decision.status"),
		NotificationTopics:      getEnvStringList("WATCHER_NOTIFICATION_TOPICS", "nova,cinder"),
		AuditWorkers:            getEnvInt("WATCHER_AUDIT_WORKERS", 2),
		MaxGeneralWorkers:       getEnvInt("WATCHER_MAX_GENERAL_WORKERS", 30),
		ContinuousAuditInterval: getEnvSeconds("WATCHER_CONTINUOUS_AUDIT_INTERVAL", 3600),
		InstanceListLimit:       getEnvInt("WATCHER_INSTANCE_LIST_LIMIT", 1000),

		ApplierConductorTopic: getEnv("WATCHER_APPLIER_CONDUCTOR_TOPIC", "watcher.applier.control"),
		ApplierStatusTopic:    getEnv("WATCHER_APPLIER_STATUS_TOPIC", "watcher.applier.status"),
		ApplierWorkers:        getEnvInt("WATCHER_APPLIER_WORKERS", 10),
		ActionExecutionRule:   getEnv("WATCHER_ACTION_EXECUTION_RULE", ExecutionRuleContinue),
		ActionTimeout:         getEnvSeconds("WATCHER_ACTION_TIMEOUT", 600),
		ActionMaxRetries:      getEnvInt("WATCHER_ACTION_MAX_RETRIES", 3),
		ActionRetryInterval:   getEnvSeconds("WATCHER_ACTION_RETRY_INTERVAL", 5),

		Datasources:     getEnvStringList("WATCHER_DATASOURCES", ""),
		QueryMaxRetries: getEnvInt("WATCHER_QUERY_MAX_RETRIES", 10),
		QueryInterval:   getEnvSeconds("WATCHER_QUERY_INTERVAL", 1),
		QueryTimeout:    getEnvSeconds("WATCHER_QUERY_TIMEOUT", 30),
		QueryCacheTTL:   getEnvSeconds("WATCHER_QUERY_CACHE_TTL", 60),
		MetricMapPath:   os.Getenv("WATCHER_METRIC_MAP_PATH"),

		PrometheusHost:      getEnv("PROMETHEUS_HOST", "localhost"),
		PrometheusPort:      getEnv("PROMETHEUS_PORT", "9090"),
		PrometheusFQDNLabel: getEnv("PROMETHEUS_FQDN_LABEL", "fqdn"),
		PrometheusUUIDLabel: getEnv("PROMETHEUS_INSTANCE_UUID_LABEL", "resource"),
		AetosHost:           getEnv("AETOS_HOST", "localhost"),
		AetosPort:           getEnv("AETOS_PORT", "9090"),

		GnocchiEndpoint: ensureScheme(os.Getenv("GNOCCHI_ENDPOINT")),
		GnocchiToken:    os.Getenv("GNOCCHI_AUTH_TOKEN"),
		MonascaEndpoint: ensureScheme(os.Getenv("MONASCA_ENDPOINT")),
		MonascaToken:    os.Getenv("MONASCA_AUTH_TOKEN"),

		InfluxDBURL:    ensureScheme(os.Getenv("INFLUXDB_URL")),
		InfluxDBToken:  os.Getenv("INFLUXDB_TOKEN"),
		InfluxDBOrg:    os.Getenv("INFLUXDB_ORG"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "watcher"),

		VSphereHost:       os.Getenv("VSPHERE_HOST"),
		VSphereUsername:   os.Getenv("VSPHERE_USERNAME"),
		VSpherePassword:   os.Getenv("VSPHERE_PASSWORD"),
		VSphereDatacenter: os.Getenv("VSPHERE_DATACENTER"),
		VSphereInsecure:   getEnvBool("VSPHERE_INSECURE", false),

		Store:     getEnv("WATCHER_STORE", "memory"),
		StorePath: getEnv("WATCHER_STORE_PATH", "watcher.db"),

		HeartbeatInterval: getEnvSeconds("WATCHER_HEARTBEAT_INTERVAL", 60),

		PrintThreadPoolStats: getEnvBool("PRINT_THREAD_POOL_STATS", false),
	}

	// Validate worker pool sizes
	for _, w := range []struct {
		name  string
		value int
	}{
		{"WATCHER_AUDIT_WORKERS", cfg.AuditWorkers},
		{"WATCHER_MAX_GENERAL_WORKERS", cfg.MaxGeneralWorkers},
		{"WATCHER_APPLIER_WORKERS", cfg.ApplierWorkers},
	} {
		if w.value < 1 || w.value > 1000 {
			return nil, fmt.Errorf("%s must be between 1 and 1000, got %d", w.name, w.value)
		}
	}

	if cfg.QueryMaxRetries < 1 {
		return nil, fmt.Errorf("WATCHER_QUERY_MAX_RETRIES must be at least 1, got %d", cfg.QueryMaxRetries)
	}
	if cfg.QueryInterval < 0 {
		return nil, fmt.Errorf("WATCHER_QUERY_INTERVAL must not be negative")
	}
	if cfg.ActionExecutionRule != ExecutionRuleHalt && cfg.ActionExecutionRule != ExecutionRuleContinue {
		return nil, fmt.Errorf("WATCHER_ACTION_EXECUTION_RULE must be %q or %q, got %q",
			ExecutionRuleHalt, ExecutionRuleContinue, cfg.ActionExecutionRule)
	}
	switch cfg.Planner {
	case "default", "node_resource_consolidation", "weight":
	default:
		return nil, fmt.Errorf("WATCHER_PLANNER must be \"default\", \"node_resource_consolidation\", or \"weight\", got %q", cfg.Planner)
	}
	if cfg.Store != "memory" && cfg.Store != "badger" {
		return nil, fmt.Errorf("WATCHER_STORE must be \"memory\" or \"badger\", got %q", cfg.Store)
	}
	for _, ds := range cfg.Datasources {
		switch ds {
		case DatasourceGnocchi, DatasourceMonasca, DatasourcePrometheus, DatasourceAetos, DatasourceInfluxDB:
		default:
			return nil, fmt.Errorf("unknown datasource %q in WATCHER_DATASOURCES", ds)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func getEnvStringList(key, defaultValue string) []string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// ensureScheme adds https:// prefix if the URL has no scheme
func ensureScheme(url string) string {
	if url == "" {
		return url
	}
	if !strings.Contains(url, "://") {
		return "https://" + url
	}
	return url
}
