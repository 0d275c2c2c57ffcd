package service

import "fmt"

// Machine-readable error codes surfaced to API clients. These are part of
// the external contract and must not change between releases.
const (
	CodeDeploymentInProgress    = "deployment_in_progress"
	CodeInvalidDeploymentStatus = "invalid_deployment_status"
	CodeValidationError         = "validation_error"
	CodeAuthenticationError     = "authentication_error"
	CodeStageExecutionError     = "stage_execution_error"
	CodeTimeoutError            = "timeout_error"
	CodeNotFound                = "not_found"
)

type DeploymentInProgressError struct {
	ProjectID int64
}

func (e DeploymentInProgressError) Error() string {
	return fmt.Sprintf("project %d already has an active deployment", e.ProjectID)
}

func (e DeploymentInProgressError) Code() string {
	return CodeDeploymentInProgress
}

func NewDeploymentInProgressError(projectID int64) DeploymentInProgressError {
	return DeploymentInProgressError{ProjectID: projectID}
}

type InvalidDeploymentStatusError struct {
	Message string
}

func (e InvalidDeploymentStatusError) Error() string {
	return e.Message
}

func (e InvalidDeploymentStatusError) Code() string {
	return CodeInvalidDeploymentStatus
}

type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func (e ValidationError) Code() string {
	return CodeValidationError
}

// AutoDeployDisabledError is returned when a verified webhook hits a project
// that has automatic deployments turned off. It maps to 403 while reusing the
// validation code.
type AutoDeployDisabledError struct {
	Slug string
}

func (e AutoDeployDisabledError) Error() string {
	return fmt.Sprintf("auto deploy is disabled for project '%s'", e.Slug)
}

func (e AutoDeployDisabledError) Code() string {
	return CodeValidationError
}

type AuthenticationError struct {
	Message string
}

func (e AuthenticationError) Error() string {
	return e.Message
}

func (e AuthenticationError) Code() string {
	return CodeAuthenticationError
}

// StageExecutionError carries the failed stage's name and the remote
// command's error output verbatim.
type StageExecutionError struct {
	Stage  string
	Output string
}

func (e StageExecutionError) Error() string {
	return fmt.Sprintf("stage '%s' failed: %s", e.Stage, e.Output)
}

func (e StageExecutionError) Code() string {
	return CodeStageExecutionError
}

type TimeoutError struct {
	Message string
}

func (e TimeoutError) Error() string {
	return e.Message
}

func (e TimeoutError) Code() string {
	return CodeTimeoutError
}

type NotFoundError struct {
	Message string
}

func (e NotFoundError) Error() string {
	return e.Message
}

func (e NotFoundError) Code() string {
	return CodeNotFound
}

// Coded is implemented by every service error carrying a stable code.
type Coded interface {
	error
	Code() string
}
