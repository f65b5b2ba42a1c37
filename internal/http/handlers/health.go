package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"
)

// Check results. Anything other than checkOK and checkSkipped degrades the
// service.
const (
	checkOK      = "ok"
	checkSkipped = "not_configured"
	checkError   = "error"
	checkLow     = "low"
)

// HealthHandler reports liveness plus the state of the catalog, the
// recording volume and the host.
type HealthHandler struct {
	version string
	started time.Time

	db           *gorm.DB
	manager      RecordingManager
	outputDir    string
	minFreeBytes int64
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version, started: time.Now()}
}

// WithDB adds a catalog ping to the checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithManager reports the number of live recordings.
func (h *HealthHandler) WithManager(manager RecordingManager) *HealthHandler {
	h.manager = manager
	return h
}

// WithOutputDir reports free space on the recording volume.
func (h *HealthHandler) WithOutputDir(dir string) *HealthHandler {
	h.outputDir = dir
	return h
}

// WithMinFreeSpace marks the volume low below n free bytes, the same floor
// new recordings are refused at.
func (h *HealthHandler) WithMinFreeSpace(n int64) *HealthHandler {
	h.minFreeBytes = n
	return h
}

type HealthResponse struct {
	Status           string            `json:"status" enum:"healthy,degraded"`
	Version          string            `json:"version"`
	Time             time.Time         `json:"time"`
	Uptime           string            `json:"uptime"`
	ActiveRecordings int               `json:"active_recordings"`
	Checks           map[string]string `json:"checks"`
	Host             HostInfo          `json:"host"`
	Disk             *DiskInfo         `json:"disk,omitempty"`
}

// HostInfo covers this process and its FFmpeg children.
type HostInfo struct {
	Cores          int     `json:"cores"`
	Load1          float64 `json:"load1"`
	LoadPercent    float64 `json:"load_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	RSSBytes       uint64  `json:"rss_bytes"`
	Children       int     `json:"child_processes"`
	ChildRSSBytes  uint64  `json:"child_rss_bytes"`
}

type DiskInfo struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	Free        string  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

type HealthOutput struct {
	Body HealthResponse
}

func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Catalog, recording volume and host status. Always 200; see status.",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Time:    now.UTC(),
		Uptime:  now.Sub(h.started).Round(time.Second).String(),
		Checks:  map[string]string{"database": h.pingDB(ctx)},
		Host:    hostInfo(ctx),
	}
	if h.manager != nil {
		resp.ActiveRecordings = h.manager.Active()
	}
	if h.outputDir != "" {
		resp.Disk, resp.Checks["output_dir"] = h.diskInfo(ctx)
	}

	for _, result := range resp.Checks {
		if result != checkOK && result != checkSkipped {
			resp.Status = "degraded"
		}
	}
	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) pingDB(ctx context.Context) string {
	if h.db == nil {
		return checkSkipped
	}
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		return checkError
	}
	return checkOK
}

func (h *HealthHandler) diskInfo(ctx context.Context) (*DiskInfo, string) {
	u, err := disk.UsageWithContext(ctx, h.outputDir)
	if err != nil {
		return nil, checkError
	}
	info := &DiskInfo{
		Path:        h.outputDir,
		TotalBytes:  u.Total,
		FreeBytes:   u.Free,
		Free:        humanize.IBytes(u.Free),
		UsedPercent: u.UsedPercent,
	}
	if h.minFreeBytes > 0 && u.Free < uint64(h.minFreeBytes) {
		return info, checkLow
	}
	return info, checkOK
}

// hostInfo collects what gopsutil can read; failed probes leave zeros.
func hostInfo(ctx context.Context) HostInfo {
	info := HostInfo{Cores: runtime.NumCPU()}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load1 = avg.Load1
		info.LoadPercent = avg.Load1 / float64(info.Cores) * 100
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemUsedPercent = vm.UsedPercent
	}

	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if m, err := self.MemoryInfoWithContext(ctx); err == nil {
		info.RSSBytes = m.RSS
	}
	children, _ := self.ChildrenWithContext(ctx)
	info.Children = len(children)
	for _, child := range children {
		if m, err := child.MemoryInfoWithContext(ctx); err == nil {
			info.ChildRSSBytes += m.RSS
		}
	}
	return info
}
