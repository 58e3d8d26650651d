package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TriggerWatch  = "watch"
	TriggerManual = "manual"
)

// Registry holds process counters for reloads, watches and bus traffic.
type Registry struct {
	watchesInstalled atomic.Int64
	reloads          sync.Map
	buses            sync.Map
}

type reloadStats struct {
	succeeded     atomic.Int64
	failed        atomic.Int64
	durationNanos atomic.Int64
}

type busStats struct {
	published atomic.Int64
	dropped   atomic.Int64
}

var Default = &Registry{}

// ReloadSummary is a point-in-time view of one module's reload counters.
type ReloadSummary struct {
	Path      string  `json:"path"`
	Trigger   string  `json:"trigger"`
	Succeeded int64   `json:"succeeded"`
	Failed    int64   `json:"failed"`
	Seconds   float64 `json:"seconds"`
}

type Summary struct {
	WatchesInstalled int64            `json:"watches_installed"`
	Reloads          []ReloadSummary  `json:"reloads"`
	Published        map[string]int64 `json:"published"`
	Dropped          map[string]int64 `json:"dropped"`
}

func (r *Registry) IncWatchInstalled() {
	if r == nil {
		return
	}
	r.watchesInstalled.Add(1)
}

func (r *Registry) RecordReload(path, trigger string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	if strings.TrimSpace(path) == "" {
		path = "unknown"
	}
	stats := r.reloadStats(reloadKey{path: path, trigger: trigger})
	stats.durationNanos.Add(duration.Nanoseconds())
	if err != nil {
		stats.failed.Add(1)
		return
	}
	stats.succeeded.Add(1)
}

func (r *Registry) IncEventPublished(bus string) {
	if r == nil {
		return
	}
	r.busStats(bus).published.Add(1)
}

func (r *Registry) IncEventDropped(bus string) {
	if r == nil {
		return
	}
	r.busStats(bus).dropped.Add(1)
}

func (r *Registry) Summary() Summary {
	summary := Summary{
		Published: map[string]int64{},
		Dropped:   map[string]int64{},
	}
	if r == nil {
		return summary
	}
	summary.WatchesInstalled = r.watchesInstalled.Load()
	for _, key := range r.reloadKeys() {
		stats := r.reloadStats(key)
		summary.Reloads = append(summary.Reloads, ReloadSummary{
			Path:      key.path,
			Trigger:   key.trigger,
			Succeeded: stats.succeeded.Load(),
			Failed:    stats.failed.Load(),
			Seconds:   float64(stats.durationNanos.Load()) / float64(time.Second),
		})
	}
	for _, name := range r.busNames() {
		stats := r.busStats(name)
		summary.Published[name] = stats.published.Load()
		summary.Dropped[name] = stats.dropped.Load()
	}
	return summary
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "watchreload_watches_installed_total", "Filesystem watches installed", r.watchesInstalled.Load())

	writeHelp(writer, "watchreload_reloads_total", "Module reloads by outcome")
	fmt.Fprintln(writer, "# TYPE watchreload_reloads_total counter")
	writeHelp(writer, "watchreload_reload_duration_seconds", "Time spent reloading modules")
	fmt.Fprintln(writer, "# TYPE watchreload_reload_duration_seconds summary")
	for _, key := range r.reloadKeys() {
		stats := r.reloadStats(key)
		labels := fmt.Sprintf("path=%s,trigger=%s", formatLabel(key.path), formatLabel(key.trigger))
		fmt.Fprintf(writer, "watchreload_reloads_total{%s,outcome=\"ok\"} %d\n", labels, stats.succeeded.Load())
		fmt.Fprintf(writer, "watchreload_reloads_total{%s,outcome=\"error\"} %d\n", labels, stats.failed.Load())
		seconds := float64(stats.durationNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "watchreload_reload_duration_seconds_sum{%s} %.6f\n", labels, seconds)
		fmt.Fprintf(writer, "watchreload_reload_duration_seconds_count{%s} %d\n", labels, stats.succeeded.Load()+stats.failed.Load())
	}

	writeHelp(writer, "watchreload_bus_events_total", "Bus notifications by delivery outcome")
	fmt.Fprintln(writer, "# TYPE watchreload_bus_events_total counter")
	for _, name := range r.busNames() {
		stats := r.busStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "watchreload_bus_events_total{bus=%s,outcome=\"published\"} %d\n", label, stats.published.Load())
		fmt.Fprintf(writer, "watchreload_bus_events_total{bus=%s,outcome=\"dropped\"} %d\n", label, stats.dropped.Load())
	}
	return nil
}

type reloadKey struct {
	path    string
	trigger string
}

func (r *Registry) reloadStats(key reloadKey) *reloadStats {
	value, _ := r.reloads.LoadOrStore(key, &reloadStats{})
	return value.(*reloadStats)
}

func (r *Registry) busStats(name string) *busStats {
	if strings.TrimSpace(name) == "" {
		name = "event_bus"
	}
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func (r *Registry) reloadKeys() []reloadKey {
	var keys []reloadKey
	r.reloads.Range(func(key, _ any) bool {
		if typed, ok := key.(reloadKey); ok {
			keys = append(keys, typed)
		}
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].path != keys[j].path {
			return keys[i].path < keys[j].path
		}
		return keys[i].trigger < keys[j].trigger
	})
	return keys
}

func (r *Registry) busNames() []string {
	var names []string
	r.buses.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
