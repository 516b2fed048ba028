package api

import (
	"encoding/json"
	"strings"

	"github.com/njoerd114/fieldsync/internal/model"
)

// Substrings the server uses in the detail of a 400 response when the
// client UUID was already stored.
var duplicateMarkers = []string{
	"UUID_Cliente ya existe",
	"Ya existe un reporte con este UUID",
}

// reportPayload is the JSON body of POST /reportes/.
type reportPayload struct {
	Title          string `json:"titulo"`
	Description    string `json:"descripcion"`
	ReportDate     string `json:"fecha_reporte"`
	ClientUUID     string `json:"uuid_cliente"`
	IdempotencyKey string `json:"peticion_idempotencia"`
	SeverityID     int64  `json:"id_severidad"`
	AreaID         int64  `json:"id_area"`
}

// createReportResponse is the JSON body of a successful report creation.
type createReportResponse struct {
	ID      int64  `json:"id_reporte"`
	Message string `json:"mensaje"`
}

type loginRequest struct {
	RUT      int64  `json:"RUT"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type"`
	RequirePasswordChange bool   `json:"require_password_change"`
}

// errorResponse is the error envelope. detail is a string for most errors
// and a list of objects for request validation failures.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

func buildReportPayload(r *model.Report) reportPayload {
	return reportPayload{
		Title:          r.Title,
		Description:    r.Description,
		ReportDate:     r.ReportDate.Format(model.DateLayout),
		ClientUUID:     r.ClientUUID,
		IdempotencyKey: r.IdempotencyKey(),
		SeverityID:     r.SeverityID,
		AreaID:         r.AreaID,
	}
}

// parseDetail extracts a human-readable detail from an error body.
func parseDetail(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil || len(er.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}
	var s string
	if err := json.Unmarshal(er.Detail, &s); err == nil {
		return s
	}
	return string(er.Detail)
}

func isDuplicateDetail(detail string) bool {
	for _, m := range duplicateMarkers {
		if strings.Contains(detail, m) {
			return true
		}
	}
	return false
}
