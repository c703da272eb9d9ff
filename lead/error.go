package lead

import (
	"net/http"

	"github.com/Abraxas-365/craftable/errx"
)

// Registry de errores del dominio de leads
var ErrRegistry = errx.NewRegistry("LEAD")

var (
	CodeLeadNotFound     = ErrRegistry.Register("LEAD_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Lead not found")
	CodeAdvisorNotFound  = ErrRegistry.Register("ADVISOR_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Advisor not found")
	CodeVariableNotFound = ErrRegistry.Register("VARIABLE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Variable not found")
	CodeCrmSyncFailed    = ErrRegistry.Register("CRM_SYNC_FAILED", errx.TypeExternal, http.StatusBadGateway, "Failed to sync with CRM")
	CodeInvalidLead      = ErrRegistry.Register("INVALID_LEAD", errx.TypeValidation, http.StatusBadRequest, "Invalid lead data")
)

func ErrLeadNotFound() *errx.Error {
	return ErrRegistry.New(CodeLeadNotFound)
}

func ErrAdvisorNotFound() *errx.Error {
	return ErrRegistry.New(CodeAdvisorNotFound)
}

func ErrVariableNotFound() *errx.Error {
	return ErrRegistry.New(CodeVariableNotFound)
}

func ErrCrmSyncFailed() *errx.Error {
	return ErrRegistry.New(CodeCrmSyncFailed)
}

func ErrInvalidLead() *errx.Error {
	return ErrRegistry.New(CodeInvalidLead)
}
