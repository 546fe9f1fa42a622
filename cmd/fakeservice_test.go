package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/KaramelBytes/gemdash-cli/internal/testutil"
)

var diamondsHeader = []string{"carat", "cut", "color", "clarity", "depth", "table", "price", "x", "y", "z"}

// fakeAnalysis mimics the analysis service closely enough for end-to-end
// command tests: it remembers whether a dataset is loaded and whether PCA ran.
type fakeAnalysis struct {
	t      testing.TB
	mu     sync.Mutex
	loaded bool
	pcaRun bool
	paths  []string
}

func newFakeAnalysis(t *testing.T) (*fakeAnalysis, *httptest.Server) {
	t.Helper()
	f := &fakeAnalysis{t: t}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAnalysis) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.paths)
}

func (f *fakeAnalysis) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	loaded, pcaRun := f.loaded, f.pcaRun
	f.mu.Unlock()

	if r.URL.Path == "/upload" {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid file type. Please upload an .xlsx file."})
			return
		}
		_, _ = io.Copy(io.Discard, file)
		f.mu.Lock()
		f.loaded, f.pcaRun = true, false
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"message": "Data uploaded successfully: " + hdr.Filename})
		return
	}
	if !loaded {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "No data loaded yet. Please upload data first."})
		return
	}

	q := r.URL.Query()
	switch r.URL.Path {
	case "/data":
		n, _ := strconv.Atoi(q.Get("rows"))
		carats := []float64{0.23, 0.21, 0.25, 0.29}
		rows := make([]map[string]any, n)
		for i := range rows {
			rows[i] = map[string]any{"carat": carats[i%len(carats)], "cut": "Ideal", "price": 326 + i}
		}
		writeJSON(w, http.StatusOK, rows)
	case "/plot/scatter":
		v := q.Get("variable")
		if !slices.Contains([]string{"cut", "color", "clarity"}, v) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid categorical variable"})
			return
		}
		writeJSON(w, http.StatusOK, chartJSON("scatter", "Price by "+v, `"x":["Ideal","Fair","Good"],"y":[326,400,520],"mode":"markers"`))
	case "/plot/boxplot":
		writeJSON(w, http.StatusOK, chartJSON("box", "Outliers in "+q.Get("variable"), `"y":[1,2,3,4,50]`))
	case "/plot/distribution":
		writeJSON(w, http.StatusOK, chartJSON("histogram", "Distribution of "+q.Get("variable"), `"x":[1,2,2,3,3,3,4]`))
	case "/plot/correlation":
		var vars []string
		if err := json.NewDecoder(r.Body).Decode(&vars); err != nil || len(vars) < 2 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "No numeric variables selected"})
			return
		}
		writeJSON(w, http.StatusOK, chartJSON("heatmap", "Correlation", `"x":["carat","price"],"y":["carat","price"],"z":[[1,0.92],[0.92,1]]`))
	case "/predict":
		m := q.Get("model_type")
		if !slices.Contains([]string{"linear", "xgboost", "random_forest"}, m) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid model type"})
			return
		}
		plot := chartJSON("scatter", "Actual vs Predicted ("+m+")", `"x":[326,400],"y":[330,390],"mode":"markers"`)
		writeJSON(w, http.StatusOK, map[string]any{
			"r_squared":           0.97,
			"plot_json":           plot,
			"predictions_preview": []map[string]any{{"Actual": 326, "Predicted": 330}},
		})
	case "/download/predictions":
		data := testutil.Workbook(f.t, testutil.Sheet{Name: "Predictions", Rows: [][]string{
			{"Actual", "Predicted"}, {"300", "310"}, {"400", "390"}, {"500", "505"},
		}})
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="predictions_%s.xlsx"`, q.Get("model_type")))
		_, _ = w.Write(data)
	case "/cluster/pca":
		f.mu.Lock()
		f.pcaRun = true
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{
			"scree_plot":        chartJSON("bar", "Scree", `"x":["PC1","PC2"],"y":[0.7,0.3]`),
			"contribution_plot": chartJSON("bar", "Contributions", `"x":["carat","price"],"y":[0.6,0.4]`),
		})
	case "/cluster/kmeans":
		if !pcaRun {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "PCA must be run before KMeans."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"elbow_plot":    chartJSON("scatter", "Elbow", `"x":[1,2,3],"y":[90,40,20],"mode":"lines+markers"`),
			"cluster_plot":  chartJSON("scatter", "Clusters", `"x":[0.1,0.5,0.9],"y":[1,2,3],"mode":"markers"`),
			"cluster_means": []map[string]any{{"Cluster": 0, "carat": 0.4}, {"Cluster": 1, "carat": 1.2}},
		})
	default:
		http.NotFound(w, r)
	}
}

// chartJSON returns a one-trace plotly figure serialized as a string, the
// way the service embeds figures.
func chartJSON(kind, title, fields string) string {
	return fmt.Sprintf(`{"data":[{"type":%q,%s}],"layout":{"title":{"text":%q}}}`, kind, fields, title)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDiamonds writes a valid diamonds workbook and returns its path.
func writeDiamonds(t *testing.T, dir string) string {
	t.Helper()
	data := testutil.Workbook(t, testutil.Sheet{Name: "Sheet1", Rows: [][]string{
		diamondsHeader,
		{"0.23", "Ideal", "E", "SI2", "61.5", "55", "326", "3.95", "3.98", "2.43"},
	}})
	path := filepath.Join(dir, "diamonds.xlsx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return path
}
