package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/KaramelBytes/gemdash-cli/internal/render"
	"github.com/KaramelBytes/gemdash-cli/internal/service"
	"github.com/KaramelBytes/gemdash-cli/internal/session"
	"github.com/KaramelBytes/gemdash-cli/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReportSession(t *testing.T, url string, sel session.Selection) *session.Session {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	sess := session.New(service.NewClient(url, 5*time.Second, logger), session.Options{
		Logger:    logger,
		Selection: &sel,
		Active:    session.ViewPreview,
	})
	t.Cleanup(sess.Close)
	return sess
}

func TestRunReportWritesEveryView(t *testing.T) {
	fake, srv := newFakeAnalysis(t)
	sel := session.DefaultSelection()
	sel.PreviewRows = 4
	sess := newReportSession(t, srv.URL, sel)
	dir := t.TempDir()
	pr := &presenter{dir: dir, tables: render.FormatCSV, charts: render.NewHTMLRenderer(), tableFiles: true}

	var out bytes.Buffer
	err := runReport(context.Background(), &out, sess, pr, writeDiamonds(t, t.TempDir()), reportOptions{})
	require.NoError(t, err)

	for _, name := range []string{
		"preview.csv",
		"categorical.html",
		"outliers.html",
		"distribution.html",
		"correlation.html",
		"prediction_xgboost.html",
		"prediction_xgboost.csv",
		"pca_scree.html",
		"pca_contribution.html",
		"kmeans_elbow.html",
		"kmeans_clusters.html",
		"kmeans_means.csv",
		"predictions_xgboost.xlsx",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	assert.Contains(t, out.String(), "✓ Report written to "+dir)
	assert.Contains(t, out.String(), "rows: 3")
	assert.Contains(t, fake.requests(), "GET /cluster/kmeans")
}

func TestRunReportSkipsAndWarns(t *testing.T) {
	fake, srv := newFakeAnalysis(t)
	sel := session.DefaultSelection()
	sel.Categorical = "price" // not categorical: rejected before any request
	sess := newReportSession(t, srv.URL, sel)
	dir := t.TempDir()
	pr := &presenter{dir: dir, tables: render.FormatCSV, charts: render.NewHTMLRenderer(), tableFiles: true}

	var out bytes.Buffer
	err := runReport(context.Background(), &out, sess, pr, writeDiamonds(t, t.TempDir()), reportOptions{
		skipClustering: true,
		skipDownload:   true,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Categorical vs Price failed")
	assert.Contains(t, out.String(), "⚠ 1 of 6 outputs had problems")
	assert.NoFileExists(t, filepath.Join(dir, "categorical.html"))
	assert.NoFileExists(t, filepath.Join(dir, "pca_scree.html"))
	for _, r := range fake.requests() {
		assert.NotContains(t, r, "/cluster/")
		assert.NotContains(t, r, "/plot/scatter")
		assert.NotContains(t, r, "/download/")
	}
}

func TestRunReportUploadRejected(t *testing.T) {
	fake, srv := newFakeAnalysis(t)
	sess := newReportSession(t, srv.URL, session.DefaultSelection())
	pr := &presenter{dir: t.TempDir(), tables: render.FormatCSV, charts: render.NewHTMLRenderer(), tableFiles: true}

	err := runReport(context.Background(), &bytes.Buffer{}, sess, pr, filepath.Join(t.TempDir(), "missing.xlsx"), reportOptions{})
	assert.ErrorContains(t, err, "open dataset")
	assert.Empty(t, fake.requests())
}
