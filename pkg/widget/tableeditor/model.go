package tableeditor

import (
	"github.com/odvcencio/mashup/pkg/jsonpatch"
)

const (
	keyTimeGrid = "timeGrid"
	keySeries   = "series"
	keyLabel    = "label"
	keyValues   = "values"
)

// Corner is the value of the top-left header cell.
const Corner = ""

// deriveModel builds the table model of a time series resource. Row 0 is
// the header (corner, then one label per series); every following row is
// a tick and the values of each series at that tick. Without a time grid
// the row index is used as tick.
func deriveModel(res any) [][]any {
	doc, _ := res.(map[string]any)
	grid, hasGrid := doc[keyTimeGrid].([]any)
	series := seriesOf(doc)

	header := make([]any, 0, len(series)+1)
	header = append(header, Corner)
	rows := len(grid)
	for _, s := range series {
		header = append(header, jsonpatch.Clone(s[keyLabel]))
		if values, ok := s[keyValues].([]any); ok && len(values) > rows {
			rows = len(values)
		}
	}

	model := make([][]any, 0, rows+1)
	model = append(model, header)
	for r := 0; r < rows; r++ {
		row := make([]any, 0, len(series)+1)
		switch {
		case r < len(grid):
			row = append(row, jsonpatch.Clone(grid[r]))
		case hasGrid:
			row = append(row, nil)
		default:
			row = append(row, float64(r))
		}
		for _, s := range series {
			values, _ := s[keyValues].([]any)
			if r < len(values) {
				row = append(row, jsonpatch.Clone(values[r]))
			} else {
				row = append(row, nil)
			}
		}
		model = append(model, row)
	}
	return model
}

// rebuildResource turns an edited model back into a resource based on
// previous. Rows whose tick is nil and columns whose label is nil are
// left out. Fields other than the time grid, the labels and the values are
// carried over from previous; columns beyond the known series become new
// series.
func rebuildResource(previous any, model [][]any) any {
	prevDoc, _ := previous.(map[string]any)
	out := make(map[string]any, len(prevDoc)+2)
	for k, v := range prevDoc {
		out[k] = jsonpatch.Clone(v)
	}
	_, hadGrid := prevDoc[keyTimeGrid]
	prevSeries := seriesOf(prevDoc)

	var header []any
	if len(model) > 0 {
		header = model[0]
	}

	var keptRows [][]any
	var ticks []any
	for _, row := range model[min(1, len(model)):] {
		if cell(row, 0) == nil {
			continue
		}
		keptRows = append(keptRows, row)
		ticks = append(ticks, jsonpatch.Clone(cell(row, 0)))
	}
	if hadGrid || len(prevDoc) == 0 {
		if ticks == nil {
			ticks = []any{}
		}
		out[keyTimeGrid] = ticks
	}

	series := []any{}
	for col := 1; col < len(header); col++ {
		label := header[col]
		if label == nil {
			continue
		}
		s := map[string]any{}
		knownValues := 0
		if col-1 < len(prevSeries) {
			for k, v := range prevSeries[col-1] {
				s[k] = jsonpatch.Clone(v)
			}
			if values, ok := prevSeries[col-1][keyValues].([]any); ok {
				knownValues = len(values)
			}
		}
		s[keyLabel] = jsonpatch.Clone(label)

		values := make([]any, 0, len(keptRows))
		for _, row := range keptRows {
			values = append(values, jsonpatch.Clone(cell(row, col)))
		}
		for len(values) > knownValues && values[len(values)-1] == nil {
			values = values[:len(values)-1]
		}
		s[keyValues] = values
		series = append(series, s)
	}
	out[keySeries] = series
	return out
}

func seriesOf(doc map[string]any) []map[string]any {
	list, _ := doc[keySeries].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		s, ok := item.(map[string]any)
		if !ok {
			s = map[string]any{}
		}
		out = append(out, s)
	}
	return out
}

func cell(row []any, col int) any {
	if col < len(row) {
		return row[col]
	}
	return nil
}

func cloneModel(model [][]any) [][]any {
	out := make([][]any, len(model))
	for i, row := range model {
		out[i] = make([]any, len(row))
		for j, v := range row {
			out[i][j] = jsonpatch.Clone(v)
		}
	}
	return out
}
