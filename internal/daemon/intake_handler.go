package daemon

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"animdb/internal/intake"
	"animdb/internal/logging"
	"animdb/internal/services"
)

const (
	intakeNameHeader  = "X-File-Name"
	intakeSessionArg  = "sid"
	intakeContentType = "text/plain; charset=utf-8"
)

// handleIntake stages one payload. The reply is always plain text; the
// status code follows the error marker.
func (s *apiServer) handleIntake(w http.ResponseWriter, r *http.Request) {
	ctx := services.WithRequestID(r.Context(), chimw.GetReqID(r.Context()))
	payload, err := readBody(r.Body)
	if err != nil {
		s.writeText(w, http.StatusBadRequest, "Failed to read request body.")
		return
	}

	receipt, err := s.intake.Accept(ctx, intake.Submission{
		Payload:      payload,
		SessionKey:   r.URL.Query().Get(intakeSessionArg),
		OriginalName: r.Header.Get(intakeNameHeader),
	})
	if err != nil {
		code := services.HTTPStatus(err)
		if code >= http.StatusInternalServerError && !services.IsBackpressure(err) {
			logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "intake failed", "intake_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions and free space"),
			)
		}
		s.writeText(w, code, intake.ReplyText(err))
		return
	}
	s.writeText(w, http.StatusOK, receipt.Response())
}

func (s *apiServer) writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", intakeContentType)
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Debug("reply not delivered", logging.Error(err))
	}
}
