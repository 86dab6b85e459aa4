package router

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error  ErrorDetail `json:"error"`
	Status int         `json:"status"`
	Path   string      `json:"path,omitempty"`
	Method string      `json:"method,omitempty"`
}

// ErrorDetail contains detailed error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler provides default error handlers
type ErrorHandler struct {
	// ShowDetails includes request details and error text in responses
	ShowDetails bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(showDetails bool) *ErrorHandler {
	return &ErrorHandler{ShowDetails: showDetails}
}

// NotFoundHandler returns a handler for 404 Not Found errors
func (eh *ErrorHandler) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "The requested resource was not found",
			},
			Status: http.StatusNotFound,
			Path:   r.URL.Path,
			Method: r.Method,
		})
	}
}

// MethodNotAllowedHandler returns a handler for 405 Method Not Allowed errors
func (eh *ErrorHandler) MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, ErrorResponse{
			Error: ErrorDetail{
				Code:    "METHOD_NOT_ALLOWED",
				Message: fmt.Sprintf("Method %s is not allowed for this resource", r.Method),
			},
			Status: http.StatusMethodNotAllowed,
			Path:   r.URL.Path,
			Method: r.Method,
		})
	}
}

// InternalServerError writes the generic 500 body. err is only exposed
// when ShowDetails is set.
func (eh *ErrorHandler) InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error: ErrorDetail{
			Code:    "INTERNAL_SERVER_ERROR",
			Message: "An internal server error occurred",
		},
		Status: http.StatusInternalServerError,
		Path:   r.URL.Path,
		Method: r.Method,
	}
	if eh.ShowDetails && err != nil {
		resp.Error.Details = map[string]interface{}{"error": err.Error()}
	}
	writeJSONError(w, resp)
}

// WriteError writes an error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeJSONError(w, ErrorResponse{
		Error:  ErrorDetail{Code: code, Message: message},
		Status: status,
	})
}

func writeJSONError(w http.ResponseWriter, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp)
}
