// Package service is the typed client for the gemstone analysis service.
// It owns no state: every method is a single request, with no retries and no
// caching.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
	"github.com/google/uuid"
)

const (
	opUpload   = "upload"
	opPreview  = "preview"
	opPlot     = "plot"
	opPredict  = "predict"
	opDownload = "download"
	opPCA      = "pca"
	opKMeans   = "kmeans"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 8 << 10

// HTTPDoer is the subset of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	httpClient HTTPDoer
	baseURL    string
	logger     *slog.Logger
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, httpTimeout time.Duration, logger *slog.Logger) *Client {
	if httpTimeout <= 0 {
		httpTimeout = 120 * time.Second
	}
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: httpTimeout}, logger)
}

// NewClientWithHTTP allows injecting the HTTP transport (used in tests).
func NewClientWithHTTP(baseURL string, hc HTTPDoer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Upload sends a spreadsheet to the service. Only .xlsx files are accepted.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		return nil, &UploadError{Local: true, Message: "invalid file type, please upload an .xlsx file"}
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	var out UploadResult
	if err := c.doJSON(ctx, opUpload, http.MethodPost, "/upload", nil, &body, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preview returns the first rows of the loaded dataset.
func (c *Client) Preview(ctx context.Context, rows int) (payload.Records, error) {
	if rows <= 0 {
		rows = DefaultPreviewRows
	}
	q := url.Values{"rows": {strconv.Itoa(rows)}}
	var raw json.RawMessage
	if err := c.doJSON(ctx, opPreview, http.MethodGet, "/data", q, nil, "", &raw); err != nil {
		return nil, err
	}
	return payload.DecodeRecords(raw)
}

// Plot requests a chart description for the given plot kind.
func (c *Client) Plot(ctx context.Context, kind PlotKind, params PlotParams) (*payload.Chart, error) {
	var raw json.RawMessage
	switch kind {
	case PlotScatter, PlotBoxplot, PlotDistribution:
		if params.Variable == "" {
			return nil, &InvalidVariableError{Local: true, Message: "no variable selected"}
		}
		q := url.Values{"variable": {params.Variable}}
		if err := c.doJSON(ctx, opPlot, http.MethodGet, "/plot/"+string(kind), q, nil, "", &raw); err != nil {
			return nil, err
		}
	case PlotCorrelation:
		b, err := json.Marshal(params.Variables)
		if err != nil {
			return nil, fmt.Errorf("marshal variables: %w", err)
		}
		if err := c.doJSON(ctx, opPlot, http.MethodPost, "/plot/correlation", nil, bytes.NewReader(b), "application/json", &raw); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown plot kind %q", kind)
	}
	return payload.ParseChart(raw)
}

// Predict fits the given model on the service and returns its results.
func (c *Client) Predict(ctx context.Context, model ModelType) (*Prediction, error) {
	if _, err := ParseModelType(string(model)); err != nil {
		return nil, err
	}
	var resp struct {
		RSquared *float64        `json:"r_squared"`
		PlotJSON json.RawMessage `json:"plot_json"`
		Preview  json.RawMessage `json:"predictions_preview"`
	}
	q := url.Values{"model_type": {string(model)}}
	if err := c.doJSON(ctx, opPredict, http.MethodGet, "/predict", q, nil, "", &resp); err != nil {
		return nil, err
	}
	chart, err := payload.ParseChart(resp.PlotJSON)
	if err != nil {
		return nil, err
	}
	preview, err := payload.DecodeRecords(resp.Preview)
	if err != nil {
		return nil, err
	}
	return &Prediction{Model: model, RSquared: resp.RSquared, Chart: chart, Preview: preview}, nil
}

// DownloadPredictions fetches the prediction spreadsheet for a model.
func (c *Client) DownloadPredictions(ctx context.Context, model ModelType) (*Attachment, error) {
	if _, err := ParseModelType(string(model)); err != nil {
		return nil, err
	}
	q := url.Values{"model_type": {string(model)}}
	resp, err := c.do(ctx, opDownload, http.MethodGet, "/download/predictions", q, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: opDownload, Err: err}
	}
	att := &Attachment{
		Filename:    fmt.Sprintf("predictions_%s.xlsx", model),
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}
	if name := attachmentFilename(resp.Header.Get("Content-Disposition")); name != "" {
		att.Filename = name
	}
	return att, nil
}

// PCA runs principal component analysis on the service.
func (c *Client) PCA(ctx context.Context) (*PCAResult, error) {
	var resp struct {
		Scree        json.RawMessage `json:"scree_plot"`
		Contribution json.RawMessage `json:"contribution_plot"`
	}
	if err := c.doJSON(ctx, opPCA, http.MethodGet, "/cluster/pca", nil, nil, "", &resp); err != nil {
		return nil, err
	}
	scree, err := payload.ParseChart(resp.Scree)
	if err != nil {
		return nil, err
	}
	contrib, err := payload.ParseChart(resp.Contribution)
	if err != nil {
		return nil, err
	}
	return &PCAResult{Scree: scree, Contribution: contrib}, nil
}

// KMeans runs K-Means (k=3) on the data scaled by the last PCA run.
func (c *Client) KMeans(ctx context.Context) (*KMeansResult, error) {
	var resp struct {
		Elbow        json.RawMessage `json:"elbow_plot"`
		Clusters     json.RawMessage `json:"cluster_plot"`
		ClusterMeans json.RawMessage `json:"cluster_means"`
	}
	if err := c.doJSON(ctx, opKMeans, http.MethodGet, "/cluster/kmeans", nil, nil, "", &resp); err != nil {
		return nil, err
	}
	elbow, err := payload.ParseChart(resp.Elbow)
	if err != nil {
		return nil, err
	}
	clusters, err := payload.ParseChart(resp.Clusters)
	if err != nil {
		return nil, err
	}
	means, err := payload.DecodeRecords(resp.ClusterMeans)
	if err != nil {
		return nil, err
	}
	return &KMeansResult{Elbow: elbow, Clusters: clusters, ClusterMeans: means}, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, q url.Values, body io.Reader, contentType string, out any) error {
	resp, err := c.do(ctx, op, method, path, q, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return &payload.FormatError{What: op, Err: errors.New("empty response body")}
		}
		return &payload.FormatError{What: op, Err: err}
	}
	return nil
}

// do sends one request. Non-2xx responses are read, classified and returned
// as errors; on success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("service request failed", "op", op, "method", method, "path", path, "request_id", reqID, "err", err)
		return nil, &NetworkError{Op: op, Err: err}
	}
	if id := resp.Header.Get("X-Request-ID"); id != "" {
		reqID = id
	}
	c.logger.Debug("service request", "op", op, "method", method, "path", path,
		"status", resp.StatusCode, "duration", time.Since(start), "request_id", reqID)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: reqID, Op: op}
	apiErr.Code, apiErr.Detail = parseErrorBody(b)
	if apiErr.Detail == "" {
		apiErr.Detail = strings.TrimSpace(string(b))
	}
	return nil, classifyAPIError(apiErr)
}

// parseErrorBody extracts code and detail from an error body. detail may be
// a string or a list of validation entries carrying "msg".
func parseErrorBody(b []byte) (code, detail string) {
	var raw map[string]json.RawMessage
	if json.Unmarshal(b, &raw) != nil {
		return "", ""
	}
	if v, ok := raw["code"]; ok {
		_ = json.Unmarshal(v, &code)
	}
	v, ok := raw["detail"]
	if !ok {
		if v, ok = raw["message"]; !ok {
			return code, ""
		}
	}
	if json.Unmarshal(v, &detail) == nil {
		return code, detail
	}
	var entries []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(v, &entries) == nil {
		msgs := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Msg != "" {
				msgs = append(msgs, e.Msg)
			}
		}
		return code, strings.Join(msgs, "; ")
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(v, &obj) == nil {
		if code == "" {
			code = obj.Code
		}
		return code, obj.Message
	}
	return code, ""
}

func attachmentFilename(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == "/" {
		return ""
	}
	return name
}
