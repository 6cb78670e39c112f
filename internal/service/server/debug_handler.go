package server

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// DebugHandler serves the current directory and container state
type DebugHandler struct {
	space      SpaceView
	containers ContainerView
	logger     *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(space SpaceView, containers ContainerView, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		space:      space,
		containers: containers,
		logger:     logger,
	}
}

// DirectoryInfo is one directory in the /debug/directories response
type DirectoryInfo struct {
	Path          string    `json:"path"`
	Kind          string    `json:"kind"`
	ReservedBytes uint64    `json:"reserved_bytes"`
	Reserved      string    `json:"reserved"`
	FreeBytes     uint64    `json:"free_bytes"`
	Free          string    `json:"free"`
	Availability  string    `json:"availability"`
	Overridden    bool      `json:"overridden"`
	SampledAt     time.Time `json:"sampled_at"`
	Error         string    `json:"error,omitempty"`
}

// ContainerInfo is one container in the /debug/containers response
type ContainerInfo struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	State     string    `json:"state"`
	LiveBytes uint64    `json:"live_bytes"`
	MaxBytes  uint64    `json:"max_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleDirectories lists every directory with its latest sample
func (h *DebugHandler) HandleDirectories(w http.ResponseWriter, r *http.Request) {
	statuses := h.space.Statuses()
	out := make([]DirectoryInfo, 0, len(statuses))
	for _, st := range statuses {
		info := DirectoryInfo{
			Path:          st.Directory.Path,
			Kind:          st.Directory.Kind(),
			ReservedBytes: st.Directory.ReservedBytes,
			Reserved:      humanize.IBytes(st.Directory.ReservedBytes),
			FreeBytes:     st.Sample.FreeBytes,
			Free:          humanize.IBytes(st.Sample.FreeBytes),
			Availability:  st.Availability.String(),
			Overridden:    st.Sample.Overridden,
			SampledAt:     st.Sample.SampledAt,
		}
		if st.Sample.Err != nil {
			info.Error = st.Sample.Err.Error()
		}
		out = append(out, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"directories": out})
}

// HandleContainers lists every live container and the counters
func (h *DebugHandler) HandleContainers(w http.ResponseWriter, r *http.Request) {
	containers := h.containers.Containers()
	out := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, ContainerInfo{
			ID:        c.ID,
			Dir:       c.Dir,
			State:     string(c.State),
			LiveBytes: c.LiveBytes,
			MaxBytes:  c.MaxBytes,
			CreatedAt: c.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_containers":      h.containers.ActiveContainers(),
		"unavailable_containers": h.containers.UnavailableContainers(),
		"containers":             out,
	})
}
