package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/haatos/devflow/internal"
	"github.com/haatos/devflow/internal/util"
	"github.com/stretchr/testify/suite"
)

type deploymentSQLiteStoreSuite struct {
	deploymentStore *DeploymentSQLiteStore
	projectStore    *ProjectSQLiteStore
	db              *sql.DB
	server          *Server
	suite.Suite
}

func TestDeploymentSQLiteStore(t *testing.T) {
	suite.Run(t, new(deploymentSQLiteStoreSuite))
}

func (suite *deploymentSQLiteStoreSuite) SetupSuite() {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	suite.db = db
	// a single connection mirrors the production writer and keeps the
	// in-memory database shared across goroutines
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		log.Fatal(err)
	}

	RunMigrations(db, internal.MigrationsDir)

	suite.deploymentStore = NewDeploymentSQLiteStore(db, db)
	suite.projectStore = NewProjectSQLiteStore(db, db)
	serverStore := NewServerSQLiteStore(db, db)
	s, err := serverStore.CreateServer(
		context.Background(),
		"deploytestserver",
		"localhost",
		"root",
		"",
		"/var/www",
	)
	if err != nil {
		log.Fatal(err)
	}
	suite.server = s
}

func (suite *deploymentSQLiteStoreSuite) TearDownSuite() {
	_ = suite.db.Close()
}

func (suite *deploymentSQLiteStoreSuite) newProject(slug string) *Project {
	p, err := suite.projectStore.CreateProject(
		context.Background(),
		suite.server.ServerID,
		slug,
		"git@github.com:haatos/"+slug+".git",
		"main",
		"production",
	)
	suite.Require().NoError(err)
	return p
}

func (suite *deploymentSQLiteStoreSuite) TestDeploymentSQLiteStore_CreateDeployment() {
	suite.Run("success - deployment created in pending", func() {
		// arrange
		p := suite.newProject("create-pending")

		// act
		d, err := suite.deploymentStore.CreateDeployment(
			context.Background(),
			p.ProjectID,
			suite.server.ServerID,
			"main",
			nil, nil,
			TriggerManual,
			nil,
		)

		// assert
		suite.NoError(err)
		suite.NotNil(d)
		suite.Equal(StatusPending, d.Status)
		suite.Equal(TriggerManual, d.TriggeredBy)
	})
	suite.Run("failure - second active deployment is rejected", func() {
		// arrange
		p := suite.newProject("create-conflict")
		first, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerManual, nil,
		)
		suite.NoError(err)
		suite.NotNil(first)

		// act
		second, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerWebhook, nil,
		)

		// assert
		suite.Error(err)
		suite.True(errors.Is(err, ErrActiveDeploymentExists))
		suite.Nil(second)
	})
	suite.Run("success - new deployment allowed after terminal state", func() {
		// arrange
		p := suite.newProject("create-after-terminal")
		first, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerManual, nil,
		)
		suite.NoError(err)

		now := time.Now().UTC()
		suite.NoError(suite.deploymentStore.UpdateDeploymentStartedOn(
			context.Background(), first.DeploymentID, StatusRunning, &now,
		))
		suite.NoError(suite.deploymentStore.UpdateDeploymentCompletedOn(
			context.Background(), first.DeploymentID, StatusFailed,
			util.AsPtr("build failed"), &now, 12,
		))

		// act
		second, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerManual, nil,
		)

		// assert
		suite.NoError(err)
		suite.NotNil(second)
	})
}

func (suite *deploymentSQLiteStoreSuite) TestDeploymentSQLiteStore_ConcurrentCreateDeployment() {
	suite.Run("success - exactly one concurrent trigger wins", func() {
		// arrange
		p := suite.newProject("create-concurrent")
		const attempts = 8

		// act
		var wg sync.WaitGroup
		results := make(chan error, attempts)
		for range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := suite.deploymentStore.CreateDeployment(
					context.Background(), p.ProjectID, suite.server.ServerID,
					"main", nil, nil, TriggerWebhook, nil,
				)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		// assert
		var successes, conflicts int
		for err := range results {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrActiveDeploymentExists):
				conflicts++
			default:
				suite.Failf("unexpected error", "%+v", err)
			}
		}
		suite.Equal(1, successes)
		suite.Equal(attempts-1, conflicts)
	})
}

func (suite *deploymentSQLiteStoreSuite) TestDeploymentSQLiteStore_FailAbandonedDeployments() {
	suite.Run("success - non-terminal rows fail and release the slot", func() {
		// arrange
		p := suite.newProject("fail-abandoned")
		d, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerManual, nil,
		)
		suite.NoError(err)

		// act
		n, err := suite.deploymentStore.FailAbandonedDeployments(
			context.Background(), "interrupted by server restart", time.Now().UTC(),
		)
		read, readErr := suite.deploymentStore.ReadDeploymentByID(
			context.Background(), d.DeploymentID)

		// assert
		suite.NoError(err)
		suite.GreaterOrEqual(n, int64(1))
		suite.NoError(readErr)
		suite.Equal(StatusFailed, read.Status)
		suite.Equal("interrupted by server restart", *read.ErrorLog)
		suite.NotNil(read.CompletedOn)

		// the project accepts new deployments again
		second, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerManual, nil,
		)
		suite.NoError(err)
		suite.NotNil(second)
	})
}

func (suite *deploymentSQLiteStoreSuite) TestDeploymentSQLiteStore_ReadDeploymentByID() {
	suite.Run("success - deployment is found", func() {
		// arrange
		p := suite.newProject("read-by-id")
		expected, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"develop", util.AsPtr("abc123"), util.AsPtr("initial"), TriggerWebhook, nil,
		)
		suite.NoError(err)

		// act
		d, err := suite.deploymentStore.ReadDeploymentByID(
			context.Background(), expected.DeploymentID)

		// assert
		suite.NoError(err)
		suite.NotNil(d)
		suite.Equal("develop", d.Branch)
		suite.Equal("abc123", *d.CommitHash)
		suite.Equal(TriggerWebhook, d.TriggeredBy)
	})
	suite.Run("failure - deployment is not found", func() {
		// arrange
		var deploymentID int64 = 918273645

		// act
		d, err := suite.deploymentStore.ReadDeploymentByID(context.Background(), deploymentID)

		// assert
		suite.Error(err)
		suite.True(errors.Is(err, sql.ErrNoRows))
		suite.Nil(d)
	})
}

func (suite *deploymentSQLiteStoreSuite) TestDeploymentSQLiteStore_UpdateDeploymentCompletedOn() {
	suite.Run("success - terminal update stamps completion and duration", func() {
		// arrange
		p := suite.newProject("update-completed")
		d, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerManual, nil,
		)
		suite.NoError(err)

		started := time.Now().UTC()
		suite.NoError(suite.deploymentStore.UpdateDeploymentStartedOn(
			context.Background(), d.DeploymentID, StatusRunning, &started,
		))

		// act
		completed := started.Add(42 * time.Second)
		updateErr := suite.deploymentStore.UpdateDeploymentCompletedOn(
			context.Background(), d.DeploymentID, StatusSuccess, nil, &completed, 42,
		)
		read, readErr := suite.deploymentStore.ReadDeploymentByID(
			context.Background(), d.DeploymentID)

		// assert
		suite.NoError(updateErr)
		suite.NoError(readErr)
		suite.Equal(StatusSuccess, read.Status)
		suite.NotNil(read.StartedOn)
		suite.NotNil(read.CompletedOn)
		suite.Equal(int64(42), *read.DurationSeconds)
	})
}

func (suite *deploymentSQLiteStoreSuite) TestDeploymentSQLiteStore_AppendDeploymentOutput() {
	suite.Run("success - output lines are appended in order", func() {
		// arrange
		p := suite.newProject("append-output")
		d, err := suite.deploymentStore.CreateDeployment(
			context.Background(), p.ProjectID, suite.server.ServerID,
			"main", nil, nil, TriggerManual, nil,
		)
		suite.NoError(err)

		// act
		suite.NoError(suite.deploymentStore.AppendDeploymentOutput(
			context.Background(), d.DeploymentID, "first line\n"))
		suite.NoError(suite.deploymentStore.AppendDeploymentOutput(
			context.Background(), d.DeploymentID, "second line\n"))
		read, readErr := suite.deploymentStore.ReadDeploymentByID(
			context.Background(), d.DeploymentID)

		// assert
		suite.NoError(readErr)
		suite.NotNil(read.OutputLog)
		suite.Equal("first line\nsecond line\n", *read.OutputLog)
	})
}

func (suite *deploymentSQLiteStoreSuite) TestDeploymentSQLiteStore_ListProjectDeployments() {
	suite.Run("success - deployments listed newest first", func() {
		// arrange
		p := suite.newProject("list-deployments")
		now := time.Now().UTC()
		for range 3 {
			d, err := suite.deploymentStore.CreateDeployment(
				context.Background(), p.ProjectID, suite.server.ServerID,
				"main", nil, nil, TriggerManual, nil,
			)
			suite.NoError(err)
			suite.NoError(suite.deploymentStore.UpdateDeploymentStartedOn(
				context.Background(), d.DeploymentID, StatusRunning, &now))
			suite.NoError(suite.deploymentStore.UpdateDeploymentCompletedOn(
				context.Background(), d.DeploymentID, StatusSuccess, nil, &now, 1))
		}

		// act
		deployments, err := suite.deploymentStore.ListProjectDeployments(
			context.Background(), p.ProjectID)
		count, countErr := suite.deploymentStore.CountProjectDeployments(
			context.Background(), p.ProjectID)

		// assert
		suite.NoError(err)
		suite.NoError(countErr)
		suite.Len(deployments, 3)
		suite.Equal(int64(3), count)
	})
}
