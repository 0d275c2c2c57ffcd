package internal

const (
	DotEnvPath    = "./.env"
	MigrationsDir = "migrations"

	DBTimestampLayout  = "2006-01-02 15:04:05"
	ScheduleDateLayout = "2006-01-02"
	ScheduleTimeLayout = "15:04"

	GitHubSignatureHeader = "X-Hub-Signature-256"
	GitHubEventHeader     = "X-GitHub-Event"
	GitLabTokenHeader     = "X-Gitlab-Token"
	GitLabEventHeader     = "X-Gitlab-Event"
	BitbucketEventHeader  = "X-Event-Key"
)
