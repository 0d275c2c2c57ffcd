package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haatos/devflow/internal/security"
	"github.com/haatos/devflow/internal/store"
	"golang.org/x/crypto/ssh"
)

type ServerServicer interface {
	CreateServer(
		ctx context.Context,
		name, hostname, username, sshPrivateKey, workspace string,
	) (*store.Server, error)
	GetServerByID(context.Context, int64) (*store.Server, error)
	ListServers(context.Context) ([]*store.Server, error)
	TestServerConnection(context.Context, int64) error
}

type ServerService struct {
	serverStore store.ServerStore
	encrypter   security.Encrypter
}

func NewServerService(ss store.ServerStore, e security.Encrypter) *ServerService {
	return &ServerService{serverStore: ss, encrypter: e}
}

// CreateServer stores a deploy target. The SSH private key is encrypted at
// rest.
func (s *ServerService) CreateServer(
	ctx context.Context,
	name, hostname, username, sshPrivateKey, workspace string,
) (*store.Server, error) {
	if workspace == "" {
		workspace = "/var/www"
	}
	var keyHash string
	if sshPrivateKey != "" {
		if _, err := ssh.ParsePrivateKey([]byte(sshPrivateKey)); err != nil {
			return nil, ValidationError{Message: "invalid ssh private key"}
		}
		keyHash = s.encrypter.EncryptAES(sshPrivateKey)
	}
	return s.serverStore.CreateServer(ctx, name, hostname, username, keyHash, workspace)
}

func (s *ServerService) GetServerByID(
	ctx context.Context,
	id int64,
) (*store.Server, error) {
	srv, err := s.serverStore.ReadServerByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFoundError{Message: fmt.Sprintf("server %d not found", id)}
		}
		return nil, err
	}
	return srv, nil
}

func (s *ServerService) ListServers(ctx context.Context) ([]*store.Server, error) {
	return s.serverStore.ListServers(ctx)
}

// TestServerConnection dials the server over SSH with the stored key.
func (s *ServerService) TestServerConnection(ctx context.Context, id int64) error {
	srv, err := s.GetServerByID(ctx, id)
	if err != nil {
		return err
	}
	if srv.SSHPrivateKeyHash == nil {
		return ValidationError{
			Message: fmt.Sprintf("server %s has no ssh key configured", srv.Name),
		}
	}

	privateKey, err := s.encrypter.DecryptAES(*srv.SSHPrivateKeyHash)
	if err != nil {
		return err
	}
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return err
	}
	cc := &ssh.ClientConfig{
		User:            srv.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	hostname := srv.Hostname
	if !strings.Contains(hostname, ":") {
		hostname += ":22"
	}
	client, err := ssh.Dial("tcp", hostname, cc)
	if err != nil {
		return err
	}
	defer client.Close()
	return nil
}
