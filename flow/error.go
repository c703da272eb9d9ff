package flow

import (
	"net/http"

	"github.com/Abraxas-365/craftable/errx"
)

var ErrRegistry = errx.NewRegistry("FLOW")

var (
	// Flow definition errors
	CodeFlowNotFound      = ErrRegistry.Register("FLOW_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Flow not found")
	CodeFlowAlreadyExists = ErrRegistry.Register("FLOW_ALREADY_EXISTS", errx.TypeConflict, http.StatusConflict, "Flow already exists")
	CodeFlowInactive      = ErrRegistry.Register("FLOW_INACTIVE", errx.TypeBusiness, http.StatusForbidden, "Flow is inactive")
	CodeFlowImmutable     = ErrRegistry.Register("FLOW_IMMUTABLE", errx.TypeConflict, http.StatusConflict, "Published flow cannot be mutated in place")

	// Graph configuration errors (detected at publish, never at runtime)
	CodeInvalidFlowGraph   = ErrRegistry.Register("INVALID_FLOW_GRAPH", errx.TypeValidation, http.StatusBadRequest, "Invalid flow graph")
	CodeMissingFalsePort   = ErrRegistry.Register("MISSING_FALSE_PORT", errx.TypeValidation, http.StatusBadRequest, "Condition node has no false port wired")
	CodeDanglingEdge       = ErrRegistry.Register("DANGLING_EDGE", errx.TypeValidation, http.StatusBadRequest, "Edge references a non-existent node")
	CodeUnknownPredicate   = ErrRegistry.Register("UNKNOWN_PREDICATE", errx.TypeValidation, http.StatusBadRequest, "Unknown condition predicate")
	CodeUnknownNodeKind    = ErrRegistry.Register("UNKNOWN_NODE_KIND", errx.TypeValidation, http.StatusBadRequest, "Unknown node kind")
	CodeInvalidNodePayload = ErrRegistry.Register("INVALID_NODE_PAYLOAD", errx.TypeValidation, http.StatusBadRequest, "Invalid node payload")

	// Instance errors
	CodeInstanceNotFound  = ErrRegistry.Register("INSTANCE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Flow instance not found")
	CodeInstanceNotLive   = ErrRegistry.Register("INSTANCE_NOT_LIVE", errx.TypeBusiness, http.StatusConflict, "Flow instance is not running or suspended")
	CodeTriggerMismatch   = ErrRegistry.Register("TRIGGER_MISMATCH", errx.TypeInternal, http.StatusInternalServerError, "Trigger does not belong to this instance")
	CodeFlowLoopDetected  = ErrRegistry.Register("FLOW_LOOP_DETECTED", errx.TypeBusiness, http.StatusUnprocessableEntity, "ConnectFlow jump depth exceeded")
	CodeStaleTimer        = ErrRegistry.Register("STALE_TIMER", errx.TypeBusiness, http.StatusConflict, "Timer fired for a superseded instance")
	CodeNodeNotFound      = ErrRegistry.Register("NODE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Node not found")

	// Collaborator failures
	CodeGenerationUnavailable = ErrRegistry.Register("GENERATION_UNAVAILABLE", errx.TypeInternal, http.StatusBadGateway, "Text generation collaborator failed")
	CodeCrmUnavailable        = ErrRegistry.Register("CRM_UNAVAILABLE", errx.TypeInternal, http.StatusBadGateway, "CRM collaborator failed")
	CodeNoAdvisorAvailable    = ErrRegistry.Register("NO_ADVISOR_AVAILABLE", errx.TypeBusiness, http.StatusConflict, "No advisor available for assignment")
)

// Error constructor functions
func ErrFlowNotFound() *errx.Error {
	return ErrRegistry.New(CodeFlowNotFound)
}

func ErrFlowAlreadyExists() *errx.Error {
	return ErrRegistry.New(CodeFlowAlreadyExists)
}

func ErrFlowInactive() *errx.Error {
	return ErrRegistry.New(CodeFlowInactive)
}

func ErrFlowImmutable() *errx.Error {
	return ErrRegistry.New(CodeFlowImmutable)
}

func ErrInvalidFlowGraph() *errx.Error {
	return ErrRegistry.New(CodeInvalidFlowGraph)
}

func ErrMissingFalsePort() *errx.Error {
	return ErrRegistry.New(CodeMissingFalsePort)
}

func ErrDanglingEdge() *errx.Error {
	return ErrRegistry.New(CodeDanglingEdge)
}

func ErrUnknownPredicate() *errx.Error {
	return ErrRegistry.New(CodeUnknownPredicate)
}

func ErrUnknownNodeKind() *errx.Error {
	return ErrRegistry.New(CodeUnknownNodeKind)
}

func ErrInvalidNodePayload() *errx.Error {
	return ErrRegistry.New(CodeInvalidNodePayload)
}

func ErrInstanceNotFound() *errx.Error {
	return ErrRegistry.New(CodeInstanceNotFound)
}

func ErrInstanceNotLive() *errx.Error {
	return ErrRegistry.New(CodeInstanceNotLive)
}

func ErrTriggerMismatch() *errx.Error {
	return ErrRegistry.New(CodeTriggerMismatch)
}

func ErrFlowLoopDetected() *errx.Error {
	return ErrRegistry.New(CodeFlowLoopDetected)
}

func ErrStaleTimer() *errx.Error {
	return ErrRegistry.New(CodeStaleTimer)
}

func ErrNodeNotFound() *errx.Error {
	return ErrRegistry.New(CodeNodeNotFound)
}

func ErrGenerationUnavailable() *errx.Error {
	return ErrRegistry.New(CodeGenerationUnavailable)
}

func ErrCrmUnavailable() *errx.Error {
	return ErrRegistry.New(CodeCrmUnavailable)
}

func ErrNoAdvisorAvailable() *errx.Error {
	return ErrRegistry.New(CodeNoAdvisorAvailable)
}
