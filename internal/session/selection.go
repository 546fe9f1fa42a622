package session

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/KaramelBytes/gemdash-cli/internal/service"
)

// Variable catalogues of the gemstone dataset.
var (
	NumericVariables     = []string{"carat", "depth", "table", "price", "x", "y", "z"}
	CategoricalVariables = []string{"cut", "color", "clarity"}
)

// Selection is the user's current choice of inputs for every view.
type Selection struct {
	Categorical  string
	Outlier      string
	Distribution string
	Correlation  []string
	Model        service.ModelType
	PreviewRows  int
}

// DefaultSelection returns the selections a fresh session starts with.
func DefaultSelection() Selection {
	return Selection{
		Categorical:  "cut",
		Outlier:      "price",
		Distribution: "price",
		Correlation:  []string{"carat", "price", "depth", "table"},
		Model:        service.ModelXGBoost,
		PreviewRows:  service.DefaultPreviewRows,
	}
}

func (s Selection) clone() Selection {
	s.Correlation = slices.Clone(s.Correlation)
	return s
}

func checkCategorical(v string) error {
	if !slices.Contains(CategoricalVariables, v) {
		return &service.InvalidVariableError{Local: true,
			Message: fmt.Sprintf("%q is not a categorical variable (choose %s)", v, strings.Join(CategoricalVariables, ", "))}
	}
	return nil
}

func checkNumeric(v string) error {
	if !slices.Contains(NumericVariables, v) {
		return &service.InvalidVariableError{Local: true,
			Message: fmt.Sprintf("%q is not a numeric variable (choose %s)", v, strings.Join(NumericVariables, ", "))}
	}
	return nil
}

func checkCorrelation(vars []string) error {
	if len(vars) < 2 {
		return &service.InvalidVariableError{Local: true, Message: "select at least two variables"}
	}
	for _, v := range vars {
		if err := checkNumeric(v); err != nil {
			return err
		}
	}
	return nil
}

// dedupe keeps the first occurrence of each name, in order.
func dedupe(vars []string) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// paramsKey derives the parameter key a view's fetch depends on. The key is
// returned even when the selection is invalid so failures can be tagged.
func paramsKey(v View, sel *Selection) (string, error) {
	switch v {
	case ViewPreview:
		return "rows=" + strconv.Itoa(sel.PreviewRows), nil
	case ViewCategorical:
		return "variable=" + sel.Categorical, checkCategorical(sel.Categorical)
	case ViewOutliers:
		return "variable=" + sel.Outlier, checkNumeric(sel.Outlier)
	case ViewDistribution:
		return "variable=" + sel.Distribution, checkNumeric(sel.Distribution)
	case ViewCorrelation:
		return "variables=" + strings.Join(sel.Correlation, ","), checkCorrelation(sel.Correlation)
	case ViewPrediction:
		return "model=" + string(sel.Model), nil
	}
	return "", nil
}
