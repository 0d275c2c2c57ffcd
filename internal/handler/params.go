package handler

type ServerParams struct {
	ServerID      int64  `param:"server_id"`
	Name          string `json:"name"            validate:"required"`
	Hostname      string `json:"hostname"        validate:"required"`
	Username      string `json:"username"        validate:"required"`
	SSHPrivateKey string `json:"ssh_private_key"`
	Workspace     string `json:"workspace"`
}

type ProjectParams struct {
	ProjectID     int64  `param:"project_id"`
	ServerID      int64  `json:"server_id"      validate:"required"`
	Slug          string `json:"slug"           validate:"required"`
	RepositoryURL string `json:"repository_url" validate:"required"`
	Branch        string `json:"branch"`
	Environment   string `json:"environment"`
}

type WebhookConfigParams struct {
	ProjectID  int64  `param:"project_id"`
	Provider   string `json:"provider"    validate:"required"`
	Secret     string `json:"secret"`
	AutoDeploy bool   `json:"auto_deploy"`
}

type PipelineConfigParams struct {
	ProjectID int64  `param:"project_id"`
	Pipeline  string `json:"pipeline"   validate:"required"`
}

type DeployParams struct {
	ProjectID int64  `param:"project_id"`
	Branch    string `json:"branch"`
}

type DeploymentParams struct {
	ProjectID    int64 `param:"project_id"`
	DeploymentID int64 `param:"deployment_id"`
}

type ListDeploymentsParams struct {
	ProjectID int64 `param:"project_id"`
	Page      int64 `                   query:"page"`
}

type ScheduleParams struct {
	ProjectID     int64   `param:"project_id"`
	Branch        string  `json:"branch"`
	Date          string  `json:"date"           validate:"required"`
	Time          string  `json:"time"           validate:"required"`
	Timezone      string  `json:"timezone"       validate:"required"`
	Note          *string `json:"note"`
	NotifyMinutes int64   `json:"notify_minutes"`
}

type CancelScheduleParams struct {
	ProjectID             int64 `param:"project_id"`
	ScheduledDeploymentID int64 `param:"scheduled_deployment_id"`
}

type WebhookDeliveryParams struct {
	Provider string `param:"provider"`
	Token    string `param:"token"`
}
