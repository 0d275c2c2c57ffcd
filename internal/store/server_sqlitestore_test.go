package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"testing"

	"github.com/haatos/devflow/internal"
	"github.com/stretchr/testify/suite"
)

type serverSQLiteStoreSuite struct {
	serverStore *ServerSQLiteStore
	db          *sql.DB
	suite.Suite
}

func TestServerSQLiteStore(t *testing.T) {
	suite.Run(t, new(serverSQLiteStoreSuite))
}

func (suite *serverSQLiteStoreSuite) SetupSuite() {
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

	suite.serverStore = NewServerSQLiteStore(db, db)
}

func (suite *serverSQLiteStoreSuite) TearDownSuite() {
	_ = suite.db.Close()
}

func (suite *serverSQLiteStoreSuite) TestServerSQLiteStore_CreateServer() {
	suite.Run("success - server row is created", func() {
		// act
		s, err := suite.serverStore.CreateServer(
			context.Background(), "web-1", "10.0.0.4", "deploy",
			"encrypted-key", "/var/www")

		// assert
		suite.NoError(err)
		suite.NotNil(s)
		suite.Equal("web-1", s.Name)
		suite.Equal("/var/www", s.Workspace)
		suite.NotZero(s.ServerID)
	})
}

func (suite *serverSQLiteStoreSuite) TestServerSQLiteStore_ReadServerByID() {
	suite.Run("success - server found by id", func() {
		// arrange
		s, err := suite.serverStore.CreateServer(
			context.Background(), "web-2", "10.0.0.5", "deploy",
			"encrypted-key", "/srv")
		suite.NoError(err)

		// act
		read, err := suite.serverStore.ReadServerByID(
			context.Background(), s.ServerID)

		// assert
		suite.NoError(err)
		suite.Equal(s.ServerID, read.ServerID)
		suite.Equal("10.0.0.5", read.Hostname)
	})
	suite.Run("failure - unknown id", func() {
		// act
		read, err := suite.serverStore.ReadServerByID(context.Background(), 9999)

		// assert
		suite.Error(err)
		suite.True(errors.Is(err, sql.ErrNoRows))
		suite.Nil(read)
	})
}

func (suite *serverSQLiteStoreSuite) TestServerSQLiteStore_ListServers() {
	suite.Run("success - created servers are listed", func() {
		// arrange
		_, err := suite.serverStore.CreateServer(
			context.Background(), "web-3", "10.0.0.6", "deploy", "", "/var/www")
		suite.NoError(err)

		// act
		servers, err := suite.serverStore.ListServers(context.Background())

		// assert
		suite.NoError(err)
		suite.GreaterOrEqual(len(servers), 1)
	})
}
