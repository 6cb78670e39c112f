package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vertextoedge/diskguard/internal/domain/vo"
	"github.com/vertextoedge/diskguard/internal/service/monitor"
	"go.uber.org/zap"
)

// OverrideHandler changes the free space overrides at runtime
type OverrideHandler struct {
	table  *monitor.OverrideTable
	space  SpaceView
	logger *zap.Logger
}

// NewOverrideHandler creates a new OverrideHandler
func NewOverrideHandler(table *monitor.OverrideTable, space SpaceView, logger *zap.Logger) *OverrideHandler {
	return &OverrideHandler{
		table:  table,
		space:  space,
		logger: logger,
	}
}

// OverrideRequest is the body of PUT /admin/overrides. Sizes accept plain
// byte counts or human sizes such as "1GiB".
type OverrideRequest struct {
	// Prefixes maps directory prefixes to free bytes
	Prefixes map[string]string `json:"prefixes,omitempty"`
	// Spec uses the "prefix:bytes,prefix:bytes" syntax
	Spec string `json:"spec,omitempty"`
	// All overrides every directory without a prefix match; "" clears it
	All *string `json:"all,omitempty"`
	// Replace drops every existing prefix before applying this request
	Replace bool `json:"replace,omitempty"`
}

// OverrideResponse describes the override table
type OverrideResponse struct {
	Prefixes map[string]uint64 `json:"prefixes"`
	All      *uint64           `json:"all,omitempty"`
	Spec     string            `json:"spec"`
}

// HandleGet returns the current overrides
func (h *OverrideHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.response())
}

// HandlePut applies a request to the table
func (h *OverrideHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	prefixes, err := parseRequestPrefixes(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	current := h.table.Snapshot()
	next := current.Prefixes
	if req.Replace {
		next = make(map[string]uint64, len(prefixes))
	}
	for p, v := range prefixes {
		next[p] = v
	}

	all := current.All
	if req.All != nil {
		if *req.All == "" {
			all = nil
		} else {
			size, err := vo.ParseByteSize(*req.All)
			if err != nil {
				writeError(w, http.StatusBadRequest, "all: "+err.Error())
				return
			}
			v := size.Bytes()
			all = &v
		}
	}

	if err := h.table.Replace(next, all); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("free space overrides changed",
		zap.String("spec", monitor.FormatPrefixSpec(next)),
		zap.Bool("global", all != nil))
	h.maybeRefresh(r)
	writeJSON(w, http.StatusOK, h.response())
}

// HandleDelete removes one prefix (?prefix=) or every override
func (h *OverrideHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		h.table.Delete(prefix)
		h.logger.Info("free space override removed", zap.String("prefix", prefix))
	} else {
		h.table.Reset()
		h.logger.Info("free space overrides cleared")
	}
	h.maybeRefresh(r)
	writeJSON(w, http.StatusOK, h.response())
}

// maybeRefresh probes right away when ?refresh=true, so the response
// reflects the new classification
func (h *OverrideHandler) maybeRefresh(r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if refresh && h.space != nil {
		h.space.Refresh()
	}
}

func (h *OverrideHandler) response() OverrideResponse {
	snap := h.table.Snapshot()
	return OverrideResponse{
		Prefixes: snap.Prefixes,
		All:      snap.All,
		Spec:     monitor.FormatPrefixSpec(snap.Prefixes),
	}
}

func parseRequestPrefixes(req OverrideRequest) (map[string]uint64, error) {
	out := make(map[string]uint64)
	if req.Spec != "" {
		parsed, err := monitor.ParsePrefixSpec(req.Spec)
		if err != nil {
			return nil, err
		}
		for p, v := range parsed {
			out[p] = v
		}
	}
	for p, s := range req.Prefixes {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("empty override prefix")
		}
		size, err := vo.ParseByteSize(s)
		if err != nil {
			return nil, fmt.Errorf("prefix %s: %w", p, err)
		}
		out[filepath.Clean(strings.TrimSpace(p))] = size.Bytes()
	}
	return out, nil
}
