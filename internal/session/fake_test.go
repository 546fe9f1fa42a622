package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"github.com/KaramelBytes/gemdash-cli/internal/service"
	"github.com/KaramelBytes/gemdash-cli/internal/testutil"
	"github.com/stretchr/testify/require"
)

// fakeService answers immediately with canned payloads unless a hook is set.
// Hooks may block, which lets tests control the order responses arrive in.
type fakeService struct {
	mu    sync.Mutex
	calls []string

	uploadHook   func(ctx context.Context, name string) (*service.UploadResult, error)
	previewHook  func(ctx context.Context, rows int) (payload.Records, error)
	plotHook     func(ctx context.Context, kind service.PlotKind, p service.PlotParams) (*payload.Chart, error)
	predictHook  func(ctx context.Context, m service.ModelType) (*service.Prediction, error)
	downloadHook func(ctx context.Context, m service.ModelType) (*service.Attachment, error)
	pcaHook      func(ctx context.Context) (*service.PCAResult, error)
	kmeansHook   func(ctx context.Context) (*service.KMeansResult, error)
}

func (f *fakeService) record(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeService) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeService) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeService) Upload(ctx context.Context, filename string, r io.Reader) (*service.UploadResult, error) {
	f.record("upload:%s", filename)
	if f.uploadHook != nil {
		return f.uploadHook(ctx, filename)
	}
	return &service.UploadResult{Message: "Data uploaded successfully: " + filename}, nil
}

func (f *fakeService) Preview(ctx context.Context, rows int) (payload.Records, error) {
	f.record("preview:%d", rows)
	if f.previewHook != nil {
		return f.previewHook(ctx, rows)
	}
	return makeRecords(rows), nil
}

func (f *fakeService) Plot(ctx context.Context, kind service.PlotKind, p service.PlotParams) (*payload.Chart, error) {
	arg := p.Variable
	if kind == service.PlotCorrelation {
		arg = strings.Join(p.Variables, ",")
	}
	f.record("plot:%s:%s", kind, arg)
	if f.plotHook != nil {
		return f.plotHook(ctx, kind, p)
	}
	return chartTitled(arg), nil
}

func (f *fakeService) Predict(ctx context.Context, m service.ModelType) (*service.Prediction, error) {
	f.record("predict:%s", m)
	if f.predictHook != nil {
		return f.predictHook(ctx, m)
	}
	r2 := 0.98
	return &service.Prediction{Model: m, RSquared: &r2, Chart: chartTitled(string(m))}, nil
}

func (f *fakeService) DownloadPredictions(ctx context.Context, m service.ModelType) (*service.Attachment, error) {
	f.record("download:%s", m)
	if f.downloadHook != nil {
		return f.downloadHook(ctx, m)
	}
	return &service.Attachment{Filename: fmt.Sprintf("predictions_%s.xlsx", m), Data: []byte("xlsx")}, nil
}

func (f *fakeService) PCA(ctx context.Context) (*service.PCAResult, error) {
	f.record("pca")
	if f.pcaHook != nil {
		return f.pcaHook(ctx)
	}
	return &service.PCAResult{Scree: chartTitled("scree"), Contribution: chartTitled("contribution")}, nil
}

func (f *fakeService) KMeans(ctx context.Context) (*service.KMeansResult, error) {
	f.record("kmeans")
	if f.kmeansHook != nil {
		return f.kmeansHook(ctx)
	}
	means, _ := payload.DecodeRecords([]byte(`[{"Cluster":0,"carat":0.4},{"Cluster":1,"carat":0.9},{"Cluster":2,"carat":1.6}]`))
	return &service.KMeansResult{Elbow: chartTitled("elbow"), Clusters: chartTitled("clusters"), ClusterMeans: means}, nil
}

func chartTitled(title string) *payload.Chart {
	return &payload.Chart{
		Traces: []payload.Trace{{Type: "bar"}},
		Layout: payload.Layout{Title: title},
	}
}

func makeRecords(n int) payload.Records {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"carat":0.%d,"cut":"Ideal","price":%d}`, i+10, 326+i)
	}
	b.WriteString("]")
	rs, err := payload.DecodeRecords([]byte(b.String()))
	if err != nil {
		panic(err)
	}
	return rs
}

func newTestSession(t *testing.T, svc *fakeService, active View) *Session {
	t.Helper()
	s := New(svc, Options{
		Logger:   testutil.NewTestLogger(t),
		Active:   active,
		Precheck: func(string, []byte) error { return nil },
	})
	t.Cleanup(s.Close)
	return s
}

func upload(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.Upload(context.Background(), "diamonds.xlsx", strings.NewReader("xlsx"))
	require.NoError(t, err)
}

// waitFor polls until cond holds; used where a fetch is deliberately left
// blocked so Wait would hang.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
