package marketing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adforge/adsengine/internal/apierrors"
)

type errorEnvelope struct {
	Error *ErrorDetail `json:"error"`
}

// parseAPIError inspects a response for a platform error. The platform can
// embed an error object under a 2xx top-level status, so both the status
// code and the body are consulted. Returns nil when the response is clean.
func parseAPIError(op string, statusCode int, body []byte) *apierrors.APIError {
	var envelope errorEnvelope
	// The body of a successful call is arbitrary JSON; a decode failure
	// just means there is no envelope to find.
	_ = json.Unmarshal(body, &envelope)

	detail := envelope.Error
	if detail == nil {
		if statusCode >= 200 && statusCode < 300 {
			return nil
		}
		return &apierrors.APIError{
			Category:   apierrors.Classify(statusCode, 0, false),
			Op:         op,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status %d", statusCode),
			Timestamp:  time.Now(),
		}
	}

	return &apierrors.APIError{
		Category:   apierrors.Classify(statusCode, detail.Code, detail.IsTransient),
		Op:         op,
		StatusCode: statusCode,
		Code:       detail.Code,
		Subcode:    detail.Subcode,
		Message:    detail.Message,
		Timestamp:  time.Now(),
	}
}
