package session

import (
	"fmt"
	"strings"
)

// View identifies one analysis tab.
type View int

const (
	ViewPreview View = iota
	ViewCategorical
	ViewOutliers
	ViewDistribution
	ViewCorrelation
	ViewPrediction
	ViewPCA
	ViewKMeans
)

// Views lists every analysis view in tab order.
var Views = []View{
	ViewPreview, ViewCategorical, ViewOutliers, ViewDistribution,
	ViewCorrelation, ViewPrediction, ViewPCA, ViewKMeans,
}

var viewNames = map[View]string{
	ViewPreview:      "preview",
	ViewCategorical:  "categorical",
	ViewOutliers:     "outliers",
	ViewDistribution: "distribution",
	ViewCorrelation:  "correlation",
	ViewPrediction:   "prediction",
	ViewPCA:          "pca",
	ViewKMeans:       "kmeans",
}

func (v View) String() string {
	if n, ok := viewNames[v]; ok {
		return n
	}
	return fmt.Sprintf("view(%d)", int(v))
}

// Title is the tab label shown to users.
func (v View) Title() string {
	switch v {
	case ViewPreview:
		return "Data Preview"
	case ViewCategorical:
		return "Categorical vs Price"
	case ViewOutliers:
		return "Outliers"
	case ViewDistribution:
		return "Distribution"
	case ViewCorrelation:
		return "Correlation"
	case ViewPrediction:
		return "Prediction"
	case ViewPCA:
		return "PCA"
	case ViewKMeans:
		return "K-Means"
	}
	return v.String()
}

// ParseView accepts a view name as printed by String.
func ParseView(s string) (View, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for v, n := range viewNames {
		if n == s {
			return v, nil
		}
	}
	switch s {
	case "scatter", "cat":
		return ViewCategorical, nil
	case "box", "boxplot":
		return ViewOutliers, nil
	case "dist":
		return ViewDistribution, nil
	case "corr":
		return ViewCorrelation, nil
	case "predict", "predictions":
		return ViewPrediction, nil
	case "k-means", "cluster":
		return ViewKMeans, nil
	}
	return 0, fmt.Errorf("unknown view %q", s)
}

// Trigger says what starts a view's fetch.
type Trigger int

const (
	// OnActivate views fetch lazily whenever they are active and their inputs change.
	OnActivate Trigger = iota
	// Manual views fetch only through Session.Run.
	Manual
)
