package service

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/gemdash-cli/internal/payload"
)

// DefaultPreviewRows is the preview size used when none is requested.
const DefaultPreviewRows = 100

// PlotKind selects one of the plot endpoints.
type PlotKind string

const (
	PlotScatter      PlotKind = "scatter"
	PlotBoxplot      PlotKind = "boxplot"
	PlotDistribution PlotKind = "distribution"
	PlotCorrelation  PlotKind = "correlation"
)

// PlotParams carries the variable selection for a plot request. Correlation
// uses Variables; every other kind uses Variable.
type PlotParams struct {
	Variable  string
	Variables []string
}

// ModelType is one of the supported regression models.
type ModelType string

const (
	ModelLinear       ModelType = "linear"
	ModelXGBoost      ModelType = "xgboost"
	ModelRandomForest ModelType = "randomforest"
)

// ModelTypes lists every supported model in display order.
var ModelTypes = []ModelType{ModelLinear, ModelXGBoost, ModelRandomForest}

// Label returns a human-readable model name.
func (m ModelType) Label() string {
	switch m {
	case ModelLinear:
		return "Linear Regression"
	case ModelXGBoost:
		return "XGBoost"
	case ModelRandomForest:
		return "Random Forest"
	}
	return string(m)
}

// ParseModelType validates a model name, case-insensitively.
func ParseModelType(s string) (ModelType, error) {
	m := ModelType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ModelTypes {
		if m == known {
			return m, nil
		}
	}
	return "", &UnknownModelError{Model: s}
}

// UploadResult is the service acknowledgement of an upload.
type UploadResult struct {
	Message string `json:"message"`
}

// Prediction is the result of fitting one model.
type Prediction struct {
	Model    ModelType
	RSquared *float64
	Chart    *payload.Chart
	Preview  payload.Records
}

// RSquaredText formats R² with four decimals, or N/A when absent.
func (p *Prediction) RSquaredText() string {
	if p == nil || p.RSquared == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.4f", *p.RSquared)
}

// PCAResult holds the two PCA charts.
type PCAResult struct {
	Scree        *payload.Chart
	Contribution *payload.Chart
}

// KMeansResult holds the K-Means charts and per-cluster means.
type KMeansResult struct {
	Elbow        *payload.Chart
	Clusters     *payload.Chart
	ClusterMeans payload.Records
}

// Attachment is a downloaded binary file.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
