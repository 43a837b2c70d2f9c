package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/skiff-io/skiff/internal/runner"
)

const dialTimeout = 15 * time.Second

// Dialer opens SSH sessions for the runner. A zero HostKeyCallback
// accepts any host key, which suits freshly launched instances whose
// keys cannot be known in advance.
type Dialer struct {
	HostKeyCallback ssh.HostKeyCallback
}

var _ runner.Dialer = (*Dialer)(nil)

// Dial connects to the target using the private key it names.
func (d *Dialer) Dial(ctx context.Context, target runner.Target) (runner.Session, error) {
	if target.PrivateKeyPath == "" {
		return nil, errors.New("target has no private key configured")
	}
	signer, err := loadSigner(target.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target.Addr(), err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", target.Addr(), err)
	}
	return &session{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", path, err)
	}
	return signer, nil
}

type session struct {
	client *ssh.Client
}

// Execute runs one command over a fresh SSH channel and returns its
// combined output. A remote non-zero exit is reported through the
// exit code, not the error.
func (s *session) Execute(ctx context.Context, command string) (string, int, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	var buf bytes.Buffer
	sess.Stdout = &buf
	sess.Stderr = &buf

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL)
		return buf.String(), -1, ctx.Err()
	case err := <-done:
		if err == nil {
			return buf.String(), 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return buf.String(), exitErr.ExitStatus(), nil
		}
		return buf.String(), -1, err
	}
}

func (s *session) Close() error {
	return s.client.Close()
}
