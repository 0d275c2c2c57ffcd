package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type ServerSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewServerSQLiteStore(rdb, rwdb *sql.DB) *ServerSQLiteStore {
	return &ServerSQLiteStore{rdb, rwdb}
}

func (store *ServerSQLiteStore) CreateServer(
	ctx context.Context,
	name, hostname, username, sshPrivateKeyHash, workspace string,
) (*Server, error) {
	s := &Server{
		Name:      name,
		Hostname:  hostname,
		Username:  username,
		Workspace: workspace,
	}
	if sshPrivateKeyHash != "" {
		s.SSHPrivateKeyHash = &sshPrivateKeyHash
	}
	query := `insert into servers (
		name,
		hostname,
		username,
		ssh_private_key_hash,
		workspace
	)
	values ($1, $2, $3, $4, $5)
	returning server_id, created_on`
	if err := sqlscan.Get(
		ctx, store.rwdb, s, query,
		s.Name, s.Hostname, s.Username, s.SSHPrivateKeyHash, s.Workspace,
	); err != nil {
		return nil, err
	}
	return s, nil
}

func (store *ServerSQLiteStore) ReadServerByID(ctx context.Context, id int64) (*Server, error) {
	s := &Server{ServerID: id}
	query := "select * from servers where server_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, s, query, s.ServerID); err != nil {
		return nil, err
	}
	return s, nil
}

func (store *ServerSQLiteStore) ListServers(ctx context.Context) ([]*Server, error) {
	query := "select * from servers order by name"
	servers := make([]*Server, 0)
	err := sqlscan.Select(ctx, store.rdb, &servers, query)
	return servers, err
}
