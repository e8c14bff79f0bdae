// Package diagnostics inspects database health and the host the server runs
// on, reporting mismatches between table metadata and the physical catalog.
package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/appforge-labs/appforge/internal/app/storage"
	"github.com/appforge-labs/appforge/pkg/logger"
)

// dynamicPrefix marks physical tables provisioned for module schemas.
const dynamicPrefix = "mod_"

// Service answers database and system diagnostic queries.
type Service struct {
	inspector storage.Inspector
	tables    storage.TableStore
	log       *logger.Logger
}

// New creates a diagnostics service.
func New(inspector storage.Inspector, tables storage.TableStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("diagnostics")
	}
	return &Service{inspector: inspector, tables: tables, log: log}
}

// Finding is one detected problem with a suggested fix.
type Finding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Fix      string `json:"suggested_fix,omitempty"`
}

// PlatformTable is a registry-plane table and its row count.
type PlatformTable struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// DynamicTable pairs a module table's metadata with its physical state.
// Missing is set when the metadata names a physical table the catalog
// no longer contains.
type DynamicTable struct {
	ModuleID     string `json:"module_id"`
	Name         string `json:"name"`
	PhysicalName string `json:"physical_name"`
	RowCount     int64  `json:"row_count"`
	Missing      bool   `json:"missing"`
}

// DatabaseReport is the result of a database diagnostic run.
type DatabaseReport struct {
	CheckedAt       time.Time       `json:"checked_at"`
	PlatformTables  []PlatformTable `json:"platform_tables"`
	DynamicTables   []DynamicTable  `json:"dynamic_tables"`
	OrphanedTables  []string        `json:"orphaned_tables"`
	WriteCheckOK    bool            `json:"write_check_ok"`
	WriteCheckError string          `json:"write_check_error,omitempty"`
	Findings        []Finding       `json:"findings"`
}

// SystemReport is a snapshot of host and process health.
type SystemReport struct {
	CheckedAt     time.Time `json:"checked_at"`
	Hostname      string    `json:"hostname"`
	Platform      string    `json:"platform"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	CPUCount      int       `json:"cpu_count"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryTotal   uint64    `json:"memory_total"`
	MemoryUsed    uint64    `json:"memory_used"`
	MemoryPercent float64   `json:"memory_percent"`
	GoVersion     string    `json:"go_version"`
	Goroutines    int       `json:"goroutines"`
	HeapAlloc     uint64    `json:"heap_alloc"`
	HeapObjects   uint64    `json:"heap_objects"`
	NumGC         uint32    `json:"num_gc"`
}

// Database compares table metadata against the physical catalog, probes that
// writes still work, and reports every mismatch with a suggested fix.
func (s *Service) Database(ctx context.Context) (DatabaseReport, error) {
	physical, err := s.inspector.ListPhysicalTables(ctx)
	if err != nil {
		return DatabaseReport{}, fmt.Errorf("list physical tables: %w", err)
	}
	registered, err := s.tables.ListTables(ctx, "")
	if err != nil {
		return DatabaseReport{}, fmt.Errorf("list table metadata: %w", err)
	}

	byName := make(map[string]storage.TableInfo, len(physical))
	for _, info := range physical {
		byName[info.Name] = info
	}

	report := DatabaseReport{
		CheckedAt:      time.Now().UTC(),
		PlatformTables: []PlatformTable{},
		DynamicTables:  []DynamicTable{},
		OrphanedTables: []string{},
		Findings:       []Finding{},
	}

	claimed := make(map[string]bool, len(registered))
	for _, tbl := range registered {
		claimed[tbl.PhysicalName] = true
		entry := DynamicTable{
			ModuleID:     tbl.ModuleID,
			Name:         tbl.Name,
			PhysicalName: tbl.PhysicalName,
		}
		if info, ok := byName[tbl.PhysicalName]; ok {
			entry.RowCount = info.RowCount
		} else {
			entry.Missing = true
			report.Findings = append(report.Findings, Finding{
				Severity: "error",
				Message:  fmt.Sprintf("table %q of module %s has no physical table %q", tbl.Name, tbl.ModuleID, tbl.PhysicalName),
				Fix:      "recreate the module or delete the stale metadata record",
			})
		}
		report.DynamicTables = append(report.DynamicTables, entry)
	}

	for _, info := range physical {
		if !strings.HasPrefix(info.Name, dynamicPrefix) {
			report.PlatformTables = append(report.PlatformTables, PlatformTable{Name: info.Name, RowCount: info.RowCount})
			continue
		}
		if !claimed[info.Name] {
			report.OrphanedTables = append(report.OrphanedTables, info.Name)
			report.Findings = append(report.Findings, Finding{
				Severity: "warning",
				Message:  fmt.Sprintf("physical table %q has no metadata record", info.Name),
				Fix:      "drop the table or restore its module_tables row",
			})
		}
	}

	if err := s.inspector.WriteCheck(ctx); err != nil {
		report.WriteCheckError = err.Error()
		report.Findings = append(report.Findings, Finding{
			Severity: "error",
			Message:  "database rejected the write check: " + err.Error(),
			Fix:      "check connectivity and write permissions for the application role",
		})
	} else {
		report.WriteCheckOK = true
	}

	s.log.WithFields(logger.Fields{
		"platform_tables": len(report.PlatformTables),
		"dynamic_tables":  len(report.DynamicTables),
		"orphaned_tables": len(report.OrphanedTables),
		"findings":        len(report.Findings),
	}).Info("database diagnostics complete")
	return report, nil
}

// System snapshots host and process health. Host probes that fail are logged
// and leave their fields zero; the Go runtime numbers are always present.
func (s *Service) System(ctx context.Context) SystemReport {
	report := SystemReport{
		CheckedAt:  time.Now().UTC(),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAlloc = ms.HeapAlloc
	report.HeapObjects = ms.HeapObjects
	report.NumGC = ms.NumGC

	if info, err := host.InfoWithContext(ctx); err != nil {
		s.log.WithError(err).Warn("host info unavailable")
	} else {
		report.Hostname = info.Hostname
		report.Platform = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
		report.UptimeSeconds = info.Uptime
	}

	if count, err := cpu.CountsWithContext(ctx, true); err != nil {
		s.log.WithError(err).Warn("cpu count unavailable")
	} else {
		report.CPUCount = count
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.log.WithError(err).Warn("cpu usage unavailable")
	} else if len(percents) > 0 {
		report.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.log.WithError(err).Warn("memory stats unavailable")
	} else {
		report.MemoryTotal = vm.Total
		report.MemoryUsed = vm.Used
		report.MemoryPercent = vm.UsedPercent
	}

	return report
}
