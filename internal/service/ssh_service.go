package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// RemoteExecutor runs shell commands on a deploy target and reads remote
// files. Implementations must be safe for sequential reuse across one
// deployment attempt.
type RemoteExecutor interface {
	Connect() error
	Close() error
	RunCommand(ctx context.Context, command string, timeout time.Duration) (string, string, error)
	ReadFile(path string) ([]byte, error)
}

func NewSSHExecutor(hostname, username string, privateKey []byte) *SSHExecutor {
	return &SSHExecutor{
		hostname:   hostname,
		username:   username,
		privateKey: privateKey,
	}
}

type SSHExecutor struct {
	hostname   string
	username   string
	privateKey []byte

	client *ssh.Client
	mu     sync.Mutex
}

func (s *SSHExecutor) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	signer, err := ssh.ParsePrivateKey(s.privateKey)
	if err != nil {
		return fmt.Errorf("err parsing ssh private key: %w", err)
	}
	cc := &ssh.ClientConfig{
		User:            s.username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	hostname := s.hostname
	if !strings.Contains(hostname, ":") {
		hostname += ":22"
	}
	client, err := ssh.Dial("tcp", hostname, cc)
	if err != nil {
		return fmt.Errorf("err dialing ssh: %w", err)
	}

	s.client = client
	return nil
}

func (s *SSHExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// RunCommand executes a single command in its own SSH session. The returned
// error is non-nil on a non-zero exit; stderr is returned either way.
func (s *SSHExecutor) RunCommand(
	ctx context.Context,
	command string,
	timeout time.Duration,
) (string, string, error) {
	if err := s.Connect(); err != nil {
		return "", "", err
	}

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	sess, err := s.client.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("err creating new session: %w", err)
	}
	defer sess.Close()
	sess.Stdout = stdout
	sess.Stderr = stderr

	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- sess.Run(command)
	}()

	select {
	case <-ctxTimeout.Done():
		_ = sess.Signal(ssh.SIGINT)
		return stdout.String(), stderr.String(), TimeoutError{
			Message: fmt.Sprintf(
				"command '%s' timed out after %d seconds",
				command,
				int(timeout.Seconds()),
			),
		}
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGINT)
		return stdout.String(), stderr.String(), ctx.Err()
	case err := <-doneCh:
		return stdout.String(), stderr.String(), err
	}
}

// ReadFile reads a remote file over SFTP on the existing SSH connection.
func (s *SSHExecutor) ReadFile(path string) ([]byte, error) {
	if err := s.Connect(); err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("err creating sftp client: %w", err)
	}
	defer client.Close()

	f, err := client.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
