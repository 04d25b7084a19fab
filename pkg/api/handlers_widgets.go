package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/mashup/pkg/jsonpatch"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/telemetry"
	"github.com/odvcencio/mashup/pkg/widget/tableeditor"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Provider == nil {
		writeError(w, http.StatusServiceUnavailable, "data provider not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource": s.cfg.Provider.Resource(),
		"items":    s.cfg.Provider.Items(),
	})
}

// handleUseItem selects an item. Fetch failures are reported on the bus,
// so the response only reflects the selection.
func (s *Server) handleUseItem(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Provider == nil {
		writeError(w, http.StatusServiceUnavailable, "data provider not configured")
		return
	}
	if !s.useLimiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many item selections")
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item index")
		return
	}
	if err := s.cfg.Provider.UseItemAt(r.Context(), index); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"selectedItem": s.cfg.Provider.SelectedItem(),
	})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Provider == nil {
		writeError(w, http.StatusServiceUnavailable, "data provider not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"selectedItem": s.cfg.Provider.SelectedItem(),
	})
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Editor == nil {
		writeError(w, http.StatusServiceUnavailable, "table editor not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":   s.cfg.Editor.ResourceName(),
		"tableModel": s.cfg.Editor.TableModel(),
	})
}

// CellEdit sets one table cell.
type CellEdit struct {
	Row   *int `json:"row"`
	Col   *int `json:"col"`
	Value any  `json:"value"`
}

// CellsRequest is the body of PUT /api/v1/table/cells: either a single
// edit or a list of edits applied and published together.
type CellsRequest struct {
	CellEdit
	Cells []CellEdit `json:"cells,omitempty"`
}

func (s *Server) handlePutCells(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Editor == nil {
		writeError(w, http.StatusServiceUnavailable, "table editor not configured")
		return
	}

	var req CellsRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	edits := req.Cells
	if req.Row != nil || req.Col != nil {
		edits = append([]CellEdit{req.CellEdit}, edits...)
	}
	if len(edits) == 0 {
		writeError(w, http.StatusBadRequest, "no cells to edit")
		return
	}

	cells := make([]tableeditor.Cell, 0, len(edits))
	for _, edit := range edits {
		if edit.Row == nil || edit.Col == nil {
			telemetry.TableEdits.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "row and col are required")
			return
		}
		cells = append(cells, tableeditor.Cell{Row: *edit.Row, Col: *edit.Col, Value: edit.Value})
	}

	patch, err := s.cfg.Editor.Edit(r.Context(), cells)
	if err != nil {
		telemetry.TableEdits.WithLabelValues("rejected").Inc()
		writeErr(w, err)
		return
	}
	if len(patch) == 0 {
		telemetry.TableEdits.WithLabelValues("unchanged").Inc()
		patch = jsonpatch.Patch{}
	} else {
		telemetry.TableEdits.WithLabelValues("published").Inc()
	}
	s.logger.Info(logging.CategoryServer, "table_edited", s.cfg.Editor.ResourceName(), map[string]any{
		"cells":      len(edits),
		"operations": len(patch),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"patches":    patch,
		"tableModel": s.cfg.Editor.TableModel(),
	})
}

// queryLimit reads ?limit= bounded to [1, ceiling].
func queryLimit(r *http.Request, def, ceiling int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, ceiling)
}
