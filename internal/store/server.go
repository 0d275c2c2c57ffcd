package store

import (
	"context"
	"time"
)

// Server is a deploy target host reachable over SSH.
type Server struct {
	ServerID          int64      `param:"server_id" json:"server_id"`
	Name              string     `                  json:"name"`
	Hostname          string     `                  json:"hostname"`
	Username          string     `                  json:"username"`
	SSHPrivateKeyHash *string    `                  json:"-"`
	Workspace         string     `                  json:"workspace"`
	CreatedOn         time.Time  `                  json:"created_on"`
}

type ServerStore interface {
	CreateServer(
		ctx context.Context,
		name, hostname, username, sshPrivateKeyHash, workspace string,
	) (*Server, error)
	ReadServerByID(context.Context, int64) (*Server, error)
	ListServers(context.Context) ([]*Server, error)
}
