package service

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassifyAPIErrorPrefersCode(t *testing.T) {
	// code says no dataset even though the detail mentions PCA
	err := classifyAPIError(&APIError{StatusCode: 400, Code: CodeNoDataset, Detail: "PCA must be run first"})
	if !IsNoDataset(err) {
		t.Fatalf("expected NoDatasetError, got %T", err)
	}
	if IsPCANotRun(err) {
		t.Fatalf("code must win over detail text")
	}
}

func TestClassifyAPIErrorDetailFallback(t *testing.T) {
	cases := []struct {
		name   string
		op     string
		status int
		detail string
		check  func(error) bool
	}{
		{"no data", opPreview, 400, "No data loaded yet. Please upload a file.", IsNoDataset},
		{"dataset missing columns", opPredict, 400, "Dataset missing required feature columns for prediction: ['x']", IsNoDataset},
		{"dataset missing price", opDownload, 400, "Dataset missing 'price' column for prediction.", IsNoDataset},
		{"pca", opKMeans, 400, "PCA must be run before K-Means clustering.", IsPCANotRun},
		{"model", opPredict, 400, "Invalid model type", func(err error) bool {
			var e *UnknownModelError
			return errors.As(err, &e)
		}},
		{"categorical", opPlot, 400, "Invalid categorical variable", func(err error) bool {
			var e *InvalidVariableError
			return errors.As(err, &e)
		}},
		{"correlation none numeric", opPlot, 400, "No numeric variables selected for correlation analysis.", func(err error) bool {
			var e *InvalidVariableError
			return errors.As(err, &e)
		}},
		{"upload 4xx", opUpload, 400, "Error reading Excel file", func(err error) bool {
			var e *UploadError
			return errors.As(err, &e)
		}},
		{"too large", opUpload, http.StatusRequestEntityTooLarge, "", func(err error) bool {
			var e *UploadError
			return errors.As(err, &e)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyAPIError(&APIError{StatusCode: tc.status, Detail: tc.detail, Op: tc.op})
			if !tc.check(err) {
				t.Fatalf("unexpected classification %T: %v", err, err)
			}
		})
	}
}

func TestClassifyAPIErrorUnrecognizedKeepsDetail(t *testing.T) {
	err := classifyAPIError(&APIError{StatusCode: 500, Detail: "Error during prediction: boom", Op: opPredict})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if Detail(err) != "Error during prediction: boom" {
		t.Fatalf("detail = %q", Detail(err))
	}
	// a 4xx outside upload is not an upload failure
	err = classifyAPIError(&APIError{StatusCode: 404, Detail: "Not Found", Op: opPreview})
	var ue *UploadError
	if errors.As(err, &ue) {
		t.Fatalf("non-upload 404 classified as UploadError")
	}
}

func TestTypedErrorsUnwrapToAPIError(t *testing.T) {
	base := &APIError{StatusCode: 400, Detail: "Invalid numerical variable", RequestID: "req-1"}
	err := error(&InvalidVariableError{APIError: base})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RequestID != "req-1" {
		t.Fatalf("errors.As should reach the embedded APIError")
	}
	local := error(&InvalidVariableError{Local: true, Message: "select at least two variables"})
	if errors.As(local, &apiErr) {
		t.Fatalf("local error must not expose an APIError")
	}
	if Detail(local) != "" {
		t.Fatalf("local error has no service detail")
	}
}

func TestParseErrorBody(t *testing.T) {
	cases := []struct {
		in, code, detail string
	}{
		{`{"detail":"No data loaded yet"}`, "", "No data loaded yet"},
		{`{"detail":"x","code":"pca_not_run"}`, "pca_not_run", "x"},
		{`{"detail":[{"loc":["query","variable"],"msg":"field required"}]}`, "", "field required"},
		{`{"detail":{"code":"unknown_model","message":"nope"}}`, "unknown_model", "nope"},
		{`<html>bad gateway</html>`, "", ""},
	}
	for _, tc := range cases {
		code, detail := parseErrorBody([]byte(tc.in))
		if code != tc.code || detail != tc.detail {
			t.Errorf("parseErrorBody(%s) = %q, %q; want %q, %q", tc.in, code, detail, tc.code, tc.detail)
		}
	}
}

func TestParseModelType(t *testing.T) {
	m, err := ParseModelType(" XGBoost ")
	if err != nil || m != ModelXGBoost {
		t.Fatalf("ParseModelType = %q, %v", m, err)
	}
	if _, err := ParseModelType("svm"); err == nil {
		t.Fatalf("expected error for svm")
	}
	if ModelRandomForest.Label() != "Random Forest" {
		t.Fatalf("label = %q", ModelRandomForest.Label())
	}
}

func TestAttachmentFilename(t *testing.T) {
	if got := attachmentFilename(`attachment; filename="predictions_xgboost.xlsx"`); got != "predictions_xgboost.xlsx" {
		t.Fatalf("got %q", got)
	}
	if got := attachmentFilename(`attachment; filename="../../etc/passwd"`); got != "passwd" {
		t.Fatalf("path components must be stripped, got %q", got)
	}
	if got := attachmentFilename(""); got != "" {
		t.Fatalf("got %q", got)
	}
}
