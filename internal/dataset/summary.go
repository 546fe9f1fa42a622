package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PredictionsSheet is the sheet name the service writes predictions to.
const PredictionsSheet = "Predictions"

// PredictionSummary describes a downloaded predictions workbook.
type PredictionSummary struct {
	Rows       int
	Skipped    int
	ActualMean float64
	RSquared   float64
	RMSE       float64
	MAE        float64
}

// SummarizePredictions reads the Actual and Predicted columns of a
// predictions workbook and computes fit statistics. Rows where either value
// is missing or not numeric are skipped.
func SummarizePredictions(data []byte) (*PredictionSummary, error) {
	wb, err := Open(data)
	if err != nil {
		return nil, err
	}
	sheet := ""
	for _, n := range wb.SheetNames() {
		if strings.EqualFold(n, PredictionsSheet) {
			sheet = n
			break
		}
	}
	rr, err := wb.Rows(sheet)
	if err != nil {
		return nil, err
	}
	header, ok := rr.Next()
	if !ok {
		return nil, fmt.Errorf("predictions sheet is empty")
	}
	ai, pi := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "actual":
			ai = i
		case "predicted":
			pi = i
		}
	}
	if ai < 0 || pi < 0 {
		return nil, fmt.Errorf("predictions sheet needs Actual and Predicted columns, got %s", strings.Join(header, ", "))
	}

	var actual, predicted []float64
	sum := &PredictionSummary{}
	for {
		row, ok := rr.Next()
		if !ok {
			break
		}
		a, aok := cellFloat(row, ai)
		p, pok := cellFloat(row, pi)
		if !aok || !pok {
			sum.Skipped++
			continue
		}
		actual = append(actual, a)
		predicted = append(predicted, p)
	}
	sum.Rows = len(actual)
	if sum.Rows == 0 {
		return sum, nil
	}
	n := float64(sum.Rows)
	sum.ActualMean = stat.Mean(actual, nil)
	sum.RSquared = stat.RSquaredFrom(predicted, actual, nil)
	sum.RMSE = floats.Distance(actual, predicted, 2) / math.Sqrt(n)
	sum.MAE = floats.Distance(actual, predicted, 1) / n
	return sum, nil
}

func cellFloat(row []string, i int) (float64, bool) {
	if i >= len(row) {
		return 0, false
	}
	s := strings.TrimSpace(row[i])
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
