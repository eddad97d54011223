package service

import (
	"encoding/json"
	"net/http"

	"product-gateway/internal/model"
)

// ErrorResponse is what the gateway sends back for a failed upstream call.
type ErrorResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var (
	unavailableBody = mustJSON(errorBody{
		Error:   "Backend service unavailable",
		Message: "The backend service is currently unavailable. Please try again later.",
	})
	timeoutBody = mustJSON(errorBody{
		Error:   "Backend service timeout",
		Message: "The backend service did not respond in time. Please try again later.",
	})
	badGatewayBody = mustJSON(errorBody{Error: "bad gateway"})
)

// Classify maps an upstream failure to the response sent to the caller:
// 503 when the backend refused the connection, 504 when it did not answer
// in time, the backend's own status and body when it answered with an
// error, and 502 for everything else.
func Classify(f *model.Failure) ErrorResponse {
	switch f.Kind {
	case model.FailureConnectionRefused:
		return ErrorResponse{StatusCode: http.StatusServiceUnavailable, ContentType: defaultContentType, Body: unavailableBody}
	case model.FailureTimeout:
		return ErrorResponse{StatusCode: http.StatusGatewayTimeout, ContentType: defaultContentType, Body: timeoutBody}
	case model.FailureUpstreamErrorResponse:
		ct := defaultContentType
		if f.Header != nil && f.Header.Get("Content-Type") != "" {
			ct = f.Header.Get("Content-Type")
		}
		return ErrorResponse{StatusCode: f.StatusCode, ContentType: ct, Body: f.Body}
	default:
		return ErrorResponse{StatusCode: http.StatusBadGateway, ContentType: defaultContentType, Body: badGatewayBody}
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
