package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/haatos/devflow/internal"
	"github.com/haatos/devflow/internal/security"
	"github.com/haatos/devflow/internal/util"
	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"
)

type projectSQLiteStoreSuite struct {
	projectStore *ProjectSQLiteStore
	db           *sql.DB
	server       *Server
	suite.Suite
}

func TestProjectSQLiteStore(t *testing.T) {
	suite.Run(t, new(projectSQLiteStoreSuite))
}

func (suite *projectSQLiteStoreSuite) SetupSuite() {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	suite.db = db
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		log.Fatal(err)
	}

	RunMigrations(db, internal.MigrationsDir)

	suite.projectStore = NewProjectSQLiteStore(db, db)
	serverStore := NewServerSQLiteStore(db, db)
	s, err := serverStore.CreateServer(
		context.Background(), "projecttestserver", "localhost", "root", "", "/var/www")
	if err != nil {
		log.Fatal(err)
	}
	suite.server = s
}

func (suite *projectSQLiteStoreSuite) TearDownSuite() {
	_ = suite.db.Close()
}

func (suite *projectSQLiteStoreSuite) TestProjectSQLiteStore_CreateProject() {
	suite.Run("success - project starts stopped without auto deploy", func() {
		// act
		p, err := suite.projectStore.CreateProject(
			context.Background(), suite.server.ServerID, "create-project",
			"git@github.com:haatos/create-project.git", "main", "production")

		// assert
		suite.NoError(err)
		suite.NotNil(p)
		suite.Equal(ProjectStopped, p.Status)
		suite.False(p.AutoDeploy)
		suite.Nil(p.WebhookToken)
	})
	suite.Run("failure - duplicate slug", func() {
		// arrange
		_, err := suite.projectStore.CreateProject(
			context.Background(), suite.server.ServerID, "duplicate-slug",
			"git@github.com:haatos/duplicate-slug.git", "main", "production")
		suite.NoError(err)

		// act
		p, err := suite.projectStore.CreateProject(
			context.Background(), suite.server.ServerID, "duplicate-slug",
			"git@github.com:haatos/other.git", "main", "staging")

		// assert
		suite.Error(err)
		suite.Nil(p)
	})
}

func (suite *projectSQLiteStoreSuite) TestProjectSQLiteStore_ReadProjectByWebhookToken() {
	suite.Run("success - project found by token", func() {
		// arrange
		p, err := suite.projectStore.CreateProject(
			context.Background(), suite.server.ServerID, "webhook-token",
			"git@github.com:haatos/webhook-token.git", "main", "production")
		suite.NoError(err)
		token := security.GenerateWebhookToken()
		err = suite.projectStore.UpdateProjectWebhook(
			context.Background(), p.ProjectID, ProviderGitHub, "s3cret", token, true)
		suite.NoError(err)

		// act
		read, err := suite.projectStore.ReadProjectByWebhookToken(
			context.Background(), token)

		// assert
		suite.NoError(err)
		suite.Equal(p.ProjectID, read.ProjectID)
		suite.Equal(ProviderGitHub, *read.WebhookProvider)
		suite.True(read.AutoDeploy)
	})
	suite.Run("failure - unknown token", func() {
		// act
		read, err := suite.projectStore.ReadProjectByWebhookToken(
			context.Background(), "not-a-token")

		// assert
		suite.Error(err)
		suite.True(errors.Is(err, sql.ErrNoRows))
		suite.Nil(read)
	})
}

func (suite *projectSQLiteStoreSuite) TestProjectSQLiteStore_UpdateProjectDeployed() {
	suite.Run("success - deployed project becomes running with commit metadata", func() {
		// arrange
		p, err := suite.projectStore.CreateProject(
			context.Background(), suite.server.ServerID, "project-deployed",
			"git@github.com:haatos/project-deployed.git", "main", "production")
		suite.NoError(err)

		// act
		deployedAt := time.Now().UTC()
		err = suite.projectStore.UpdateProjectDeployed(
			context.Background(), p.ProjectID,
			util.AsPtr("abc123"), util.AsPtr("fix login"), deployedAt)
		read, readErr := suite.projectStore.ReadProjectByID(
			context.Background(), p.ProjectID)

		// assert
		suite.NoError(err)
		suite.NoError(readErr)
		suite.Equal(ProjectRunning, read.Status)
		suite.Equal("abc123", *read.CurrentCommitHash)
		suite.Equal("fix login", *read.CurrentCommitMessage)
		suite.NotNil(read.LastDeployedAt)
	})
}

func (suite *projectSQLiteStoreSuite) TestProjectSQLiteStore_KnownBranches() {
	suite.Run("success - branches decode from json column", func() {
		// arrange
		p := &Project{Branches: `["main","develop"]`}

		// act
		branches := p.KnownBranches()

		// assert
		suite.Equal([]string{"main", "develop"}, branches)
	})
}
