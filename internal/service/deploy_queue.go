package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/haatos/devflow/internal/security"
	"github.com/haatos/devflow/internal/store"
	"github.com/haatos/devflow/internal/util"
)

// ExecutorFactory builds a RemoteExecutor for a deploy target. Swappable in
// tests.
type ExecutorFactory func(hostname, username string, privateKey []byte) RemoteExecutor

func NewDeployQueue(
	deploymentService DeploymentServicer,
	pipelineStore store.PipelineStore,
	serverStore store.ServerStore,
	encrypter security.Encrypter,
	newExecutor ExecutorFactory,
	maxQueued int64,
	deployTimeout time.Duration,
) *DeployQueue {
	if newExecutor == nil {
		newExecutor = func(hostname, username string, privateKey []byte) RemoteExecutor {
			return NewSSHExecutor(hostname, username, privateKey)
		}
	}
	return &DeployQueue{
		deploymentService: deploymentService,
		pipelineStore:     pipelineStore,
		serverStore:       serverStore,
		encrypter:         encrypter,
		newExecutor:       newExecutor,
		deployTimeout:     deployTimeout,
		OutputSSEClients:  NewSSEClientMap[string](),
		StatusSSEClients:  NewSSEClientMap[store.Deployment](),
		queue:             make(chan *store.Deployment, maxQueued),
		done:              make(chan struct{}),
		cancelMap:         NewCancelMap[int64](),
	}
}

// DeployQueue executes deployments one at a time in queue order. Output lines
// are appended to the deployment row and fanned out to SSE listeners as they
// are produced.
type DeployQueue struct {
	deploymentService DeploymentServicer
	pipelineStore     store.PipelineStore
	serverStore       store.ServerStore
	encrypter         security.Encrypter
	newExecutor       ExecutorFactory
	deployTimeout     time.Duration

	OutputSSEClients *SSEClientMap[string]
	StatusSSEClients *SSEClientMap[store.Deployment]

	queue     chan *store.Deployment
	done      chan struct{}
	cancelMap *CancelMap[int64]

	outputCh chan string
	statusCh chan store.Deployment
	mu       sync.Mutex
}

var ErrDeployQueueFull = errors.New("deploy queue is full")

func (dq *DeployQueue) Enqueue(d *store.Deployment) error {
	select {
	case dq.queue <- d:
		return nil
	default:
		return ErrDeployQueueFull
	}
}

func (dq *DeployQueue) CancelDeployment(deploymentID int64) {
	dq.cancelMap.Call(deploymentID)
}

func (dq *DeployQueue) Run() {
	for {
		select {
		case deployment := <-dq.queue:
			dq.outputCh = make(chan string)
			dq.statusCh = make(chan store.Deployment)

			ctx, cancel := context.WithTimeout(context.Background(), dq.deployTimeout)
			dq.cancelMap.AddCancel(deployment.DeploymentID, cancel)

			var wg sync.WaitGroup
			wg.Go(func() { dq.handleOutput(deployment.DeploymentID) })
			wg.Go(func() { dq.handleStatus(deployment.DeploymentID) })

			if err := dq.processDeployment(ctx, deployment); err != nil {
				if cause := dq.interruptCause(ctx); cause != nil {
					err = cause
				}
				errLog := err.Error()
				if deployment.Status == store.StatusPending {
					if trErr := dq.deploymentService.Transition(
						context.Background(), deployment, store.StatusRunning, nil,
					); trErr != nil {
						log.Println("err updating deployment to running:", trErr)
					}
				}
				if deployment.Status == store.StatusRunning {
					if trErr := dq.deploymentService.Transition(
						context.Background(), deployment, store.StatusFailed, &errLog,
					); trErr != nil {
						log.Println("err updating deployment to failed:", errors.Join(err, trErr))
					}
				}
				log.Println("err processing deployment:", err)
				dq.statusCh <- *deployment
				dq.outputCh <- fmt.Sprintf("\nFAIL || Deployment failed: %s\n", errLog)
			}

			close(dq.outputCh)
			close(dq.statusCh)
			wg.Wait()
			dq.cancelMap.RemoveCancel(deployment.DeploymentID)
			cancel()
		case <-dq.done:
			close(dq.queue)
			return
		}
	}
}

// interruptCause translates a dead deploy context into the error recorded on
// the deployment row. A user cancel is not a timeout.
func (dq *DeployQueue) interruptCause(ctx context.Context) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return TimeoutError{
			Message: fmt.Sprintf("deployment timed out after %s", dq.deployTimeout),
		}
	case errors.Is(ctx.Err(), context.Canceled):
		return errors.New("deployment cancelled")
	}
	return nil
}

func (dq *DeployQueue) Shutdown() {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	select {
	case <-dq.done:
	default:
		close(dq.done)
	}
}

func (dq *DeployQueue) handleOutput(deploymentID int64) {
	for out := range dq.outputCh {
		if err := dq.deploymentService.AppendOutput(
			context.Background(), deploymentID, out,
		); err != nil {
			log.Printf("err appending deployment output: %+v\n", err)
		}
		dq.OutputSSEClients.SendToClients(deploymentID, out)
	}
}

func (dq *DeployQueue) handleStatus(deploymentID int64) {
	for d := range dq.statusCh {
		dq.StatusSSEClients.SendToClients(deploymentID, d)
	}
}

func (dq *DeployQueue) processDeployment(
	ctx context.Context,
	deployment *store.Deployment,
) error {
	if err := dq.deploymentService.Transition(
		context.Background(), deployment, store.StatusRunning, nil,
	); err != nil {
		dq.outputCh <- "err updating deployment started on\n"
		return err
	}
	dq.statusCh <- *deployment

	project, err := dq.deploymentService.GetProjectByID(
		ctx, deployment.DeploymentProjectID,
	)
	if err != nil {
		dq.outputCh <- "err reading project\n"
		return err
	}
	server, err := dq.serverStore.ReadServerByID(ctx, deployment.DeploymentServerID)
	if err != nil {
		dq.outputCh <- "err reading server\n"
		return err
	}

	executor, err := dq.connect(server)
	if err != nil {
		dq.outputCh <- "err connecting to server\n"
		return err
	}
	defer executor.Close()
	dq.outputCh <- fmt.Sprintf("Connected to %s\n", server.Hostname)

	projectDir := fmt.Sprintf("%s/%s", server.Workspace, project.Slug)

	dq.snapshotEnv(ctx, executor, deployment, projectDir)

	if err := dq.syncRepository(ctx, executor, deployment, project, projectDir); err != nil {
		return err
	}

	stages, err := dq.pipelineStore.ListEnabledProjectStages(ctx, project.ProjectID)
	if err != nil {
		dq.outputCh <- "err reading pipeline stages\n"
		return err
	}

	// projects without a custom pipeline use the built-in docker sequence
	if len(stages) > 0 {
		err = dq.runCustomPipeline(ctx, executor, deployment, projectDir, stages)
	} else {
		err = dq.runDefaultPipeline(ctx, executor, deployment, project, projectDir)
	}
	if err != nil {
		return err
	}

	if err := dq.deploymentService.Transition(
		context.Background(), deployment, store.StatusSuccess, nil,
	); err != nil {
		dq.outputCh <- "err updating deployment completed on\n"
		return err
	}
	dq.statusCh <- *deployment
	dq.outputCh <- "\nPASS || Deployment completed successfully.\n"

	return nil
}

func (dq *DeployQueue) connect(server *store.Server) (RemoteExecutor, error) {
	if server.SSHPrivateKeyHash == nil {
		return nil, fmt.Errorf("server %s has no ssh key configured", server.Name)
	}
	privateKey, err := dq.encrypter.DecryptAES(*server.SSHPrivateKeyHash)
	if err != nil {
		return nil, err
	}
	executor := dq.newExecutor(server.Hostname, server.Username, privateKey)
	if err := executor.Connect(); err != nil {
		return nil, err
	}
	return executor, nil
}

// snapshotEnv stores the project's remote .env on the deployment row so a
// rollback can reproduce the environment. A missing file is not an error.
func (dq *DeployQueue) snapshotEnv(
	ctx context.Context,
	executor RemoteExecutor,
	deployment *store.Deployment,
	projectDir string,
) {
	env, err := executor.ReadFile(projectDir + "/.env")
	if err != nil {
		dq.outputCh <- "No .env found, skipping environment snapshot\n"
		return
	}
	if err := dq.deploymentService.RecordEnvSnapshot(
		ctx, deployment.DeploymentID, string(env),
	); err != nil {
		log.Printf("err recording env snapshot: %+v\n", err)
		return
	}
	dq.outputCh <- "Captured environment snapshot\n"
}

// syncRepository clones the repository on first deploy and fast-forwards the
// working copy afterwards. Rollbacks check out the recorded commit instead of
// the branch head.
func (dq *DeployQueue) syncRepository(
	ctx context.Context,
	executor RemoteExecutor,
	deployment *store.Deployment,
	project *store.Project,
	projectDir string,
) error {
	dq.outputCh <- fmt.Sprintf("Syncing repository %s\n", project.RepositoryURL)

	cloneOrPull := fmt.Sprintf(
		"if [ -d %[1]s/.git ]; then cd %[1]s && git fetch origin; "+
			"else git clone -b %[2]s %[3]s %[1]s; fi",
		projectDir, deployment.Branch, project.RepositoryURL,
	)
	if _, stderr, err := executor.RunCommand(ctx, cloneOrPull, 120*time.Second); err != nil {
		dq.outputCh <- stderr
		return StageExecutionError{Stage: "sync repository", Output: stderr}
	}

	var checkout string
	if deployment.TriggeredBy == store.TriggerRollback && deployment.CommitHash != nil {
		checkout = fmt.Sprintf(
			"cd %s && git checkout --force %s", projectDir, *deployment.CommitHash,
		)
	} else {
		checkout = fmt.Sprintf(
			"cd %[1]s && git checkout --force %[2]s && git reset --hard origin/%[2]s",
			projectDir, deployment.Branch,
		)
	}
	if _, stderr, err := executor.RunCommand(ctx, checkout, 60*time.Second); err != nil {
		dq.outputCh <- stderr
		return StageExecutionError{Stage: "sync repository", Output: stderr}
	}

	dq.recordCommit(ctx, executor, deployment, projectDir)
	return nil
}

func (dq *DeployQueue) recordCommit(
	ctx context.Context,
	executor RemoteExecutor,
	deployment *store.Deployment,
	projectDir string,
) {
	stdout, _, err := executor.RunCommand(
		ctx,
		fmt.Sprintf("cd %s && git log -1 --format=%%H%%n%%s", projectDir),
		10*time.Second,
	)
	if err != nil {
		log.Printf("err reading commit metadata: %+v\n", err)
		return
	}
	lines := strings.SplitN(strings.TrimSpace(stdout), "\n", 2)
	if len(lines) == 0 || lines[0] == "" {
		return
	}
	hash := lines[0]
	var message string
	if len(lines) > 1 {
		message = lines[1]
	}
	if err := dq.deploymentService.RecordCommit(
		ctx, deployment.DeploymentID, hash, message,
	); err != nil {
		log.Printf("err recording commit metadata: %+v\n", err)
		return
	}
	deployment.CommitHash = &hash
	deployment.CommitMessage = &message
	dq.outputCh <- fmt.Sprintf("Deploying commit %s %s\n", hash, message)
}

// runDefaultPipeline is the built-in container deployment sequence: build the
// image, replace the running container, run migrations.
func (dq *DeployQueue) runDefaultPipeline(
	ctx context.Context,
	executor RemoteExecutor,
	deployment *store.Deployment,
	project *store.Project,
	projectDir string,
) error {
	image := fmt.Sprintf("%s:%d", project.Slug, deployment.DeploymentID)
	steps := []struct {
		name    string
		command string
		timeout time.Duration
	}{
		{
			"build image",
			fmt.Sprintf("cd %s && docker build -t %s .", projectDir, image),
			10 * time.Minute,
		},
		{
			"stop old container",
			fmt.Sprintf(
				"docker stop %[1]s >/dev/null 2>&1 || true; "+
					"docker rm %[1]s >/dev/null 2>&1 || true",
				project.Slug,
			),
			time.Minute,
		},
		{
			"start new container",
			fmt.Sprintf(
				"cd %s && docker run -d --name %s --restart unless-stopped "+
					"--env-file .env %s",
				projectDir, project.Slug, image,
			),
			2 * time.Minute,
		},
		{
			"run migrations",
			fmt.Sprintf("docker exec %s sh -c 'test ! -f migrate.sh || ./migrate.sh'",
				project.Slug),
			5 * time.Minute,
		},
	}

	for _, step := range steps {
		dq.outputCh <- fmt.Sprintf("Executing stage '%s'\n", step.name)
		stdout, stderr, err := executor.RunCommand(ctx, step.command, step.timeout)
		if stdout != "" {
			dq.outputCh <- stdout
		}
		if err != nil {
			if _, ok := err.(TimeoutError); ok {
				return err
			}
			dq.outputCh <- stderr
			return StageExecutionError{Stage: step.name, Output: stderr}
		}
	}
	return nil
}

// runCustomPipeline snapshots the project's enabled stages into a run and
// executes them in order. The first failure stops the run and every
// remaining stage is marked skipped.
func (dq *DeployQueue) runCustomPipeline(
	ctx context.Context,
	executor RemoteExecutor,
	deployment *store.Deployment,
	projectDir string,
	stages []store.PipelineStage,
) error {
	run, runStages, err := dq.pipelineStore.CreatePipelineRun(
		ctx, deployment.DeploymentID, stages,
	)
	if err != nil {
		dq.outputCh <- "err creating pipeline run\n"
		return err
	}

	now := time.Now().UTC()
	if err := dq.pipelineStore.UpdatePipelineRunStartedOn(
		ctx, run.RunID, store.StatusRunning, &now,
	); err != nil {
		return err
	}

	for i := range runStages {
		stage := &runStages[i]
		if err := dq.runStage(ctx, executor, projectDir, stage); err != nil {
			if markErr := dq.pipelineStore.MarkRunStagesSkipped(
				context.Background(), run.RunID, stage.Position,
			); markErr != nil {
				log.Printf("err marking stages skipped: %+v\n", markErr)
			}
			completed := time.Now().UTC()
			if runErr := dq.pipelineStore.UpdatePipelineRunCompletedOn(
				context.Background(), run.RunID, store.StatusFailed, &completed,
			); runErr != nil {
				log.Printf("err completing pipeline run: %+v\n", runErr)
			}
			return err
		}
	}

	completed := time.Now().UTC()
	return dq.pipelineStore.UpdatePipelineRunCompletedOn(
		ctx, run.RunID, store.StatusSuccess, &completed,
	)
}

func (dq *DeployQueue) runStage(
	ctx context.Context,
	executor RemoteExecutor,
	projectDir string,
	stage *store.PipelineRunStage,
) error {
	dq.outputCh <- fmt.Sprintf("Executing stage '%s'\n", stage.Name)

	started := time.Now().UTC()
	if err := dq.pipelineStore.UpdateRunStageStartedOn(
		ctx, stage.RunStageID, store.StageRunning, &started,
	); err != nil {
		return err
	}

	stdout, stderr, err := executor.RunCommand(
		ctx,
		fmt.Sprintf("cd %s && %s", projectDir, stage.Command),
		time.Duration(stage.TimeoutSeconds)*time.Second,
	)
	if stdout != "" {
		dq.outputCh <- stdout
	}

	completed := time.Now().UTC()
	if err != nil {
		output := stderr
		if tErr, ok := err.(TimeoutError); ok {
			output = tErr.Message
		}
		if updErr := dq.pipelineStore.UpdateRunStageCompletedOn(
			context.Background(), stage.RunStageID, store.StageFailed,
			&output, &completed,
		); updErr != nil {
			log.Printf("err completing run stage: %+v\n", updErr)
		}
		dq.outputCh <- output
		if _, ok := err.(TimeoutError); ok {
			return err
		}
		return StageExecutionError{Stage: stage.Name, Output: stderr}
	}

	return dq.pipelineStore.UpdateRunStageCompletedOn(
		ctx, stage.RunStageID, store.StageSuccess, util.AsPtr(stdout), &completed,
	)
}
