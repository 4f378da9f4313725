package httpx

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/mbolis/matrix-survey/log"
)

// ErrorResponse is the body of every API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Missing lists the ratings still needed, on incomplete submissions.
	Missing []string `json:"missing,omitempty"`
}

// Will log an error, and send an HTTP response with status 500 and default text
func LogInternalError(w http.ResponseWriter, r *http.Request, code string, err error) {
	log.Errorf("%s: %s", code, err)
	writeError(w, r, http.StatusInternalServerError, ErrorResponse{
		Code:    code,
		Message: http.StatusText(http.StatusInternalServerError),
	})
}

// Will log a debug message, and send an HTTP response with status 404
func LogNotFound(w http.ResponseWriter, r *http.Request, code string, id any) {
	log.Debugf("%s: not found (%v)", code, id)
	writeError(w, r, http.StatusNotFound, ErrorResponse{
		Code:    code,
		Message: http.StatusText(http.StatusNotFound),
	})
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, r *http.Request, status int, level log.Level, code string) {
	log.Log(level, code)
	writeError(w, r, status, ErrorResponse{
		Code:    code,
		Message: http.StatusText(status),
	})
}

// Will log an error code and message at the given level,
// and send an HTTP response with the given status and formatted message
func LogStatusMsg(w http.ResponseWriter, r *http.Request, status int, level log.Level, code string, msg string, args ...any) {
	errMsg := fmt.Sprintf(msg, args...)
	log.Log(level, code+":", errMsg)
	writeError(w, r, status, ErrorResponse{
		Code:    code,
		Message: errMsg,
	})
}

// Will log an error at the given level, and send the full response body
func LogResponse(w http.ResponseWriter, r *http.Request, status int, level log.Level, body ErrorResponse) {
	log.Log(level, body.Code+":", body.Message)
	writeError(w, r, status, body)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorResponse) {
	render.Status(r, status)
	render.JSON(w, r, body)
}
