package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Machine-readable error codes. When the service includes one in its error
// body it takes precedence over matching on the detail text.
const (
	CodeNoDataset       = "no_dataset"
	CodePCANotRun       = "pca_not_run"
	CodeInvalidVariable = "invalid_variable"
	CodeUnknownModel    = "unknown_model"
	CodeUploadFailed    = "upload_failed"
)

// APIError represents a structured failure response from the analysis service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RequestID  string `json:"-"`
	Op         string `json:"-"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error: status=%d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " detail=%s", e.Detail)
	}
	return b.String()
}

// NoDatasetError indicates the service has no dataset loaded.
type NoDatasetError struct{ *APIError }

func (e *NoDatasetError) Error() string {
	return "no dataset loaded: upload a dataset first"
}

// PcaNotRunError is the service refusing K-Means because it has no PCA result.
// Receiving it means the local PCA gate was stale.
type PcaNotRunError struct{ *APIError }

func (e *PcaNotRunError) Error() string {
	return "the service has no PCA result for K-Means: run PCA again, then retry K-Means"
}

// InvalidVariableError reports a rejected variable selection. Local reports
// it without an APIError when the selection was refused before any request.
type InvalidVariableError struct {
	*APIError
	Local   bool
	Message string
}

func (e *InvalidVariableError) Error() string {
	if e.Local || e.APIError == nil {
		return "invalid variable: " + e.Message
	}
	return fmt.Sprintf("invalid variable: %s", e.APIError.Detail)
}

// UnknownModelError indicates the requested model type is not supported.
type UnknownModelError struct {
	*APIError
	Model string
}

func (e *UnknownModelError) Error() string {
	if e.APIError == nil {
		return fmt.Sprintf("unknown model type %q (use linear, xgboost or randomforest)", e.Model)
	}
	return fmt.Sprintf("unknown model type: %s", e.APIError.Detail)
}

// UploadError indicates the dataset file was refused (format, size, parse).
type UploadError struct {
	*APIError
	Local   bool
	Message string
}

func (e *UploadError) Error() string {
	if e.Local || e.APIError == nil {
		return "upload failed: " + e.Message
	}
	return fmt.Sprintf("upload failed: %s", e.APIError.Detail)
}

// NetworkError indicates the request never produced an HTTP response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "network error"
	}
	return fmt.Sprintf("%s: service unreachable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NoDatasetError) Unwrap() error       { return unwrapAPI(e.APIError) }
func (e *PcaNotRunError) Unwrap() error       { return unwrapAPI(e.APIError) }
func (e *InvalidVariableError) Unwrap() error { return unwrapAPI(e.APIError) }
func (e *UnknownModelError) Unwrap() error    { return unwrapAPI(e.APIError) }
func (e *UploadError) Unwrap() error          { return unwrapAPI(e.APIError) }

// unwrapAPI avoids handing errors.As a typed nil.
func unwrapAPI(a *APIError) error {
	if a == nil {
		return nil
	}
	return a
}

// Detail returns the service-provided detail text carried by err, if any.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

// IsNoDataset reports whether err says the service has no dataset.
func IsNoDataset(err error) bool {
	var e *NoDatasetError
	return errors.As(err, &e)
}

// IsPCANotRun reports whether err is the service-side K-Means precondition failure.
func IsPCANotRun(err error) bool {
	var e *PcaNotRunError
	return errors.As(err, &e)
}

// classifyAPIError maps a generic APIError to a typed error. A stable code
// wins; otherwise it falls back to matching the detail text, which depends on
// the exact server wording.
func classifyAPIError(apiErr *APIError) error {
	switch apiErr.Code {
	case CodeNoDataset:
		return &NoDatasetError{APIError: apiErr}
	case CodePCANotRun:
		return &PcaNotRunError{APIError: apiErr}
	case CodeInvalidVariable:
		return &InvalidVariableError{APIError: apiErr}
	case CodeUnknownModel:
		return &UnknownModelError{APIError: apiErr}
	case CodeUploadFailed:
		return &UploadError{APIError: apiErr}
	}
	msg := apiErr.Detail
	switch {
	case containsAnyFold(msg, "No data loaded yet", "Dataset missing"):
		return &NoDatasetError{APIError: apiErr}
	case containsFold(msg, "PCA must be run"):
		return &PcaNotRunError{APIError: apiErr}
	case containsFold(msg, "Invalid model type"):
		return &UnknownModelError{APIError: apiErr}
	case containsAnyFold(msg, "Invalid categorical variable", "Invalid numerical variable",
		"No numeric variables selected", "None of the selected variables"):
		return &InvalidVariableError{APIError: apiErr}
	}
	if apiErr.Op == opUpload && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return &UploadError{APIError: apiErr}
	}
	if apiErr.StatusCode == http.StatusRequestEntityTooLarge {
		return &UploadError{APIError: apiErr}
	}
	return apiErr
}

func containsAnyFold(s string, subs ...string) bool {
	for _, sub := range subs {
		if containsFold(s, sub) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	if s == "" || sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
