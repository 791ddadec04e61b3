// ABOUTME: Per-datasource metric maps translating metric aliases to native names
// ABOUTME: Built-in defaults merged once at startup with an optional YAML override

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Metric aliases strategies may request. Each datasource translates an
// alias to its native metric name through the metric map.
const (
	MetricHostCPUUsage     = "host_cpu_usage"
	MetricHostRAMUsage     = "host_ram_usage"
	MetricHostOutletTemp   = "host_outlet_temp"
	MetricHostPower        = "host_power"
	MetricInstanceCPUUsage = "instance_cpu_usage"
	MetricInstanceRAMUsage = "instance_ram_usage"
	MetricInstanceRAMAlloc = "instance_ram_allocated"
	MetricInstanceDiskAlloc = "instance_root_disk_size"
)

// MetricMap maps datasource name -> metric alias -> native metric name.
// It is assembled once at startup and read-only afterwards.
type MetricMap map[string]map[string]string

// builtinMetricMap carries the defaults for every supported datasource.
func builtinMetricMap() MetricMap {
	return MetricMap{
		DatasourceGnocchi: {
			MetricHostCPUUsage:      "compute.node.cpu.percent",
			MetricHostRAMUsage:      "hardware.memory.used",
			MetricHostOutletTemp:    "hardware.ipmi.node.outlet_temperature",
			MetricHostPower:         "hardware.ipmi.node.power",
			MetricInstanceCPUUsage:  "cpu_util",
			MetricInstanceRAMUsage:  "memory.resident",
			MetricInstanceRAMAlloc:  "memory",
			MetricInstanceDiskAlloc: "disk.root.size",
		},
		DatasourceMonasca: {
			MetricHostCPUUsage:     "cpu.percent",
			MetricHostRAMUsage:     "mem.used_mb",
			MetricInstanceCPUUsage: "vm.cpu.utilization_perc",
			MetricInstanceRAMUsage: "vm.mem.used_mb",
		},
		DatasourcePrometheus: {
			MetricHostCPUUsage:     "node_cpu_seconds_total",
			MetricHostRAMUsage:     "node_memory_MemAvailable_bytes",
			MetricInstanceCPUUsage: "ceilometer_cpu",
			MetricInstanceRAMUsage: "ceilometer_memory_usage",
		},
		DatasourceAetos: {
			MetricHostCPUUsage:     "node_cpu_percent",
			MetricHostRAMUsage:     "node_memory_used_bytes",
			MetricInstanceCPUUsage: "vm_cpu_percent",
			MetricInstanceRAMUsage: "vm_memory_used_bytes",
		},
		DatasourceInfluxDB: {
			MetricHostCPUUsage:     "host_cpu_usage_percent",
			MetricHostRAMUsage:     "host_memory_used_mb",
			MetricInstanceCPUUsage: "instance_cpu_usage_percent",
			MetricInstanceRAMUsage: "instance_memory_used_mb",
		},
	}
}

// LoadMetricMap builds the metric map from the built-in defaults, merged
// with the YAML override file at path when set. The override format is the
// same shape as the map itself:
//
//	prometheus:
//	  host_cpu_usage: my_node_cpu_metric
func LoadMetricMap(path string) (MetricMap, error) {
	m := builtinMetricMap()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading metric map override %s: %w", path, err)
	}

	var override MetricMap
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing metric map override %s: %w", path, err)
	}

	for datasource, metrics := range override {
		if m[datasource] == nil {
			m[datasource] = make(map[string]string, len(metrics))
		}
		for alias, native := range metrics {
			m[datasource][alias] = native
		}
	}
	return m, nil
}

// Lookup returns the native metric name for an alias under a datasource.
// The second return is false when the datasource does not serve the alias.
func (m MetricMap) Lookup(datasource, alias string) (string, bool) {
	metrics, ok := m[datasource]
	if !ok {
		return "", false
	}
	native, ok := metrics[alias]
	return native, ok
}

// Metrics returns the aliases a datasource serves.
func (m MetricMap) Metrics(datasource string) []string {
	out := make([]string, 0, len(m[datasource]))
	for alias := range m[datasource] {
		out = append(out, alias)
	}
	return out
}
