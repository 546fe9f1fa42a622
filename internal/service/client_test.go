package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{
		URL: "http://" + ln.Addr().String(),
		srv: srv,
		ln:  ln,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	t.Cleanup(s.Close)
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

const scatterChart = `{"data":[{"type":"scatter","mode":"markers","x":[0.23,0.21],"y":[326,327]}],"layout":{"title":"Carat vs Price"}}`

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func TestClientPreviewSendsRowsAndDecodesRecords(t *testing.T) {
	type seen struct{ rows, reqID string }
	got := make(chan seen, 1)
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/data" {
			http.NotFound(w, r)
			return
		}
		got <- seen{r.URL.Query().Get("rows"), r.Header.Get("X-Request-ID")}
		_, _ = io.WriteString(w, `[{"carat":0.23,"cut":"Ideal"},{"carat":0.21,"cut":"Premium"}]`)
	}))

	c := NewClient(srv.URL, 5*time.Second, nil)
	rs, err := c.Preview(context.Background(), 0)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	s := <-got
	if s.rows != "100" {
		t.Fatalf("rows = %q, want default 100", s.rows)
	}
	if s.reqID == "" {
		t.Fatalf("expected X-Request-ID header")
	}
	if len(rs) != 2 || strings.Join(rs.Columns(), ",") != "carat,cut" {
		t.Fatalf("unexpected records: %+v", rs)
	}
}

func TestClientPlotGetAndCorrelationPost(t *testing.T) {
	var (
		mu       sync.Mutex
		corrBody []string
	)
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/plot/scatter":
			if r.URL.Query().Get("variable") != "price" {
				writeDetail(w, http.StatusBadRequest, "Invalid numerical variable")
				return
			}
			_, _ = io.WriteString(w, scatterChart)
		case r.Method == http.MethodPost && r.URL.Path == "/plot/correlation":
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("content type = %q", ct)
			}
			mu.Lock()
			_ = json.NewDecoder(r.Body).Decode(&corrBody)
			mu.Unlock()
			// the service returns plotly figures serialized as a string
			b, _ := json.Marshal(`{"data":[{"type":"heatmap","z":[[1,0.9],[0.9,1]],"x":["carat","price"],"y":["carat","price"]}],"layout":{}}`)
			_, _ = w.Write(b)
		default:
			http.NotFound(w, r)
		}
	}))
	c := NewClient(srv.URL, 5*time.Second, nil)

	ch, err := c.Plot(context.Background(), PlotScatter, PlotParams{Variable: "price"})
	if err != nil {
		t.Fatalf("Plot scatter: %v", err)
	}
	if ch.Layout.Title != "Carat vs Price" || ch.Traces[0].Mode != "markers" {
		t.Fatalf("unexpected chart: %+v", ch)
	}

	ch, err = c.Plot(context.Background(), PlotCorrelation, PlotParams{Variables: []string{"carat", "price"}})
	if err != nil {
		t.Fatalf("Plot correlation: %v", err)
	}
	mu.Lock()
	got := strings.Join(corrBody, ",")
	mu.Unlock()
	if got != "carat,price" {
		t.Fatalf("correlation body = %v", got)
	}
	if ch.Traces[0].Type != "heatmap" || len(ch.Traces[0].Z) != 2 {
		t.Fatalf("unexpected heatmap: %+v", ch.Traces[0])
	}

	_, err = c.Plot(context.Background(), PlotScatter, PlotParams{Variable: "bogus"})
	var iv *InvalidVariableError
	if !errors.As(err, &iv) || iv.Local {
		t.Fatalf("expected remote InvalidVariableError, got %T %v", err, err)
	}
	if Detail(err) != "Invalid numerical variable" {
		t.Fatalf("detail = %q", Detail(err))
	}
}

func TestClientPredictParsesStringChartAndMissingRSquared(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("model_type") == "linear" {
			_, _ = io.WriteString(w, `{"plot_json":`+mustQuote(scatterChart)+`,"predictions_preview":[{"price":326,"Predicted_Price":330.5}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"r_squared":0.9812,"plot_json":`+scatterChart+`,"predictions_preview":[]}`)
	}))
	c := NewClient(srv.URL, 5*time.Second, nil)

	p, err := c.Predict(context.Background(), ModelXGBoost)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.RSquaredText() != "0.9812" || p.Model != ModelXGBoost {
		t.Fatalf("unexpected prediction: %+v", p)
	}

	p, err = c.Predict(context.Background(), ModelLinear)
	if err != nil {
		t.Fatalf("Predict linear: %v", err)
	}
	if p.RSquaredText() != "N/A" {
		t.Fatalf("missing r_squared should render N/A, got %q", p.RSquaredText())
	}
	if cols := p.Preview.Columns(); len(cols) != 2 || cols[1] != "Predicted_Price" {
		t.Fatalf("preview columns = %v", cols)
	}
}

func TestClientPredictRejectsUnknownModelLocally(t *testing.T) {
	var called atomic.Bool
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	c := NewClient(srv.URL, time.Second, nil)
	_, err := c.Predict(context.Background(), ModelType("svm"))
	var um *UnknownModelError
	if !errors.As(err, &um) {
		t.Fatalf("expected UnknownModelError, got %T %v", err, err)
	}
	if called.Load() {
		t.Fatalf("unknown model must not reach the service")
	}
}

func TestClientUploadMultipartAndErrors(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			http.NotFound(w, r)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "missing file")
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if string(b) == "corrupt" {
			writeDetail(w, http.StatusBadRequest, "Error reading Excel file: File is not a zip file")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Data uploaded successfully: " + hdr.Filename})
	}))
	c := NewClient(srv.URL, 5*time.Second, nil)

	res, err := c.Upload(context.Background(), "/tmp/diamonds.xlsx", strings.NewReader("PK"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Message != "Data uploaded successfully: diamonds.xlsx" {
		t.Fatalf("message = %q", res.Message)
	}

	_, err = c.Upload(context.Background(), "bad.xlsx", strings.NewReader("corrupt"))
	var ue *UploadError
	if !errors.As(err, &ue) || ue.Local {
		t.Fatalf("expected remote UploadError, got %T %v", err, err)
	}
	if !strings.Contains(err.Error(), "not a zip file") {
		t.Fatalf("upload error should carry detail: %v", err)
	}

	_, err = c.Upload(context.Background(), "data.csv", strings.NewReader("a,b"))
	if !errors.As(err, &ue) || !ue.Local {
		t.Fatalf("expected local UploadError for csv, got %T %v", err, err)
	}
}

func TestClientDownloadUsesContentDispositionOrFallback(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/predictions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if r.URL.Query().Get("model_type") == "linear" {
			w.Header().Set("Content-Disposition", `attachment; filename="linear_predictions.xlsx"`)
		}
		_, _ = io.WriteString(w, "xlsx-bytes")
	}))
	c := NewClient(srv.URL, 5*time.Second, nil)

	att, err := c.DownloadPredictions(context.Background(), ModelLinear)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if att.Filename != "linear_predictions.xlsx" || string(att.Data) != "xlsx-bytes" {
		t.Fatalf("unexpected attachment: %+v", att)
	}

	att, err = c.DownloadPredictions(context.Background(), ModelRandomForest)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if att.Filename != "predictions_randomforest.xlsx" {
		t.Fatalf("fallback filename = %q", att.Filename)
	}
}

func TestClientPCAAndKMeans(t *testing.T) {
	var pcaDone atomic.Bool
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cluster/pca":
			pcaDone.Store(true)
			_, _ = io.WriteString(w, `{"scree_plot":`+scatterChart+`,"contribution_plot":`+scatterChart+`}`)
		case "/cluster/kmeans":
			if !pcaDone.Load() {
				writeDetail(w, http.StatusBadRequest, "PCA must be run before K-Means clustering.")
				return
			}
			_, _ = io.WriteString(w, `{"elbow_plot":`+scatterChart+`,"cluster_plot":`+scatterChart+`,"cluster_means":[{"Cluster":0,"carat":0.5}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	c := NewClient(srv.URL, 5*time.Second, nil)

	_, err := c.KMeans(context.Background())
	if !IsPCANotRun(err) {
		t.Fatalf("expected PcaNotRunError, got %T %v", err, err)
	}
	if _, err := c.PCA(context.Background()); err != nil {
		t.Fatalf("PCA: %v", err)
	}
	km, err := c.KMeans(context.Background())
	if err != nil {
		t.Fatalf("KMeans: %v", err)
	}
	if len(km.ClusterMeans) != 1 || km.Elbow == nil || km.Clusters == nil {
		t.Fatalf("unexpected kmeans result: %+v", km)
	}
}

func TestClientMalformedChartIsFormatError(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"scree_plot":{"data":[]},"contribution_plot":null}`)
	}))
	c := NewClient(srv.URL, 5*time.Second, nil)
	_, err := c.PCA(context.Background())
	var fe *payload.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FormatError, got %T %v", err, err)
	}
}

func TestClientNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: cannot open local listener (%v)", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := NewClient("http://"+addr, time.Second, nil)
	_, err = c.PCA(context.Background())
	var ne *NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %T %v", err, err)
	}
	if ne.Op != opPCA {
		t.Fatalf("op = %q", ne.Op)
	}
}

func TestClientCanceledContextIsNotNetworkError(t *testing.T) {
	block := make(chan struct{})
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer close(block)
	c := NewClient(srv.URL, 5*time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.PCA(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %T %v", err, err)
	}
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
