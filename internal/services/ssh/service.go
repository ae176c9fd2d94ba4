// Package ssh runs remote commands and uploads files over SSH.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/goremote-dump/internal/models"
	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultTimeout = 30 * time.Second

// Service defines the interface for remote operations.
type Service interface {
	Run(ctx context.Context, profile models.ConnectionProfile, cmd models.RemoteCommand) (*models.TransportResult, error)
	Upload(ctx context.Context, profile models.ConnectionProfile, localPath, remoteName string) (*models.TransportResult, error)
	TestConnection(ctx context.Context, profile models.ConnectionProfile) (*models.TransportResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	SetStdin(r io.Reader)
	SetStdout(w io.Writer)
	SetStderr(w io.Writer)
	Run(cmd string) error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) SetStdin(r io.Reader)  { s.session.Stdin = r }
func (s *defaultSSHSession) SetStdout(w io.Writer) { s.session.Stdout = w }
func (s *defaultSSHSession) SetStderr(w io.Writer) { s.session.Stderr = w }

func (s *defaultSSHSession) Run(cmd string) error {
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// recordingWriter remembers the first error returned by the wrapped writer.
type recordingWriter struct {
	w   io.Writer
	err error
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err != nil && r.err == nil {
		r.err = err
	}
	return n, err
}

// exitStatuser is implemented by *ssh.ExitError.
type exitStatuser interface {
	ExitStatus() int
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(profile models.ConnectionProfile) (*ssh.ClientConfig, error) {
	var key []byte
	var err error

	// Load private key from file or use provided key
	if len(profile.PrivateKey) > 0 {
		key = profile.PrivateKey
	} else if profile.KeyPath != "" {
		key, err = os.ReadFile(profile.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", profile.KeyPath, err)
		}
	} else {
		return nil, fmt.Errorf("no private key provided")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // homelab default, known_hosts is opt-in
	if profile.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(profile.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts from %s: %w", profile.KnownHostsPath, err)
		}
	}

	timeout := profile.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &ssh.ClientConfig{
		User: profile.SSHUser,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (s *Impl) connect(ctx context.Context, profile models.ConnectionProfile) (SSHClient, error) {
	sshConfig, err := s.buildConfig(profile)
	if err != nil {
		return nil, err
	}

	port := profile.SSHPort
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(profile.SSHHost, strconv.Itoa(port))

	type dialResult struct {
		client SSHClient
		err    error
	}
	clientChan := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// Close a client that connects after we gave up on it.
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, res.err)
		}
		return res.client, nil
	}
}

// Run executes cmd on the remote host. When cmd.OutputPath is set, remote stdout is
// streamed into that file and only stderr is captured. Exit code 255 in the result
// means the connection itself failed.
func (s *Impl) Run(ctx context.Context, profile models.ConnectionProfile, cmd models.RemoteCommand) (*models.TransportResult, error) {
	rendered := cmd.Render()
	result := &models.TransportResult{Command: rendered}

	s.logger.Debug().
		Str("host", profile.SSHHost).
		Str("command", rendered).
		Str("output", cmd.OutputPath).
		Msg("running remote command")

	client, err := s.connect(ctx, profile)
	if err != nil {
		s.connectionFailure(result, "", err)
		return result, nil
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		s.connectionFailure(result, "", fmt.Errorf("failed to create session: %w", err))
		return result, nil
	}
	defer func() { _ = session.Close() }()

	var captured bytes.Buffer
	var output *os.File
	var stdout *recordingWriter
	if cmd.Streamed() {
		output, err = os.Create(cmd.OutputPath) //nolint:gosec // path is built by the runner
		if err != nil {
			result.ExitCode = models.ExitFailure
			result.Error = models.NewCommandError("failed to create output file", "", err)
			return result, nil
		}
		stdout = &recordingWriter{w: output}
		session.SetStdout(stdout)
		session.SetStderr(&captured)
	} else {
		session.SetStdout(&captured)
		session.SetStderr(&captured)
	}

	runErr := s.wait(ctx, client, session, rendered)

	if output != nil {
		closeErr := output.Close()
		// A local write failure surfaces from the session without an exit status and
		// must not be mistaken for a dropped connection. The partial file is kept.
		if stdout.err != nil {
			result.ExitCode = models.ExitFailure
			result.Output = captured.String()
			result.Error = models.NewCommandError("failed to write output file", result.Output, stdout.err)
			s.logger.Error().Err(stdout.err).Str("output", cmd.OutputPath).Msg("failed to write dump output")
			return result, nil
		}
		if closeErr != nil && runErr == nil {
			result.ExitCode = models.ExitFailure
			result.Output = captured.String()
			result.Error = models.NewCommandError("failed to write output file", result.Output, closeErr)
			return result, nil
		}
	}

	s.classify(result, captured.String(), runErr)

	if result.ConnectionFailed() && output != nil {
		_ = os.Remove(cmd.OutputPath)
	}

	return result, nil
}

// Upload copies a local file into the remote login's home directory, readable only by
// the login user.
func (s *Impl) Upload(ctx context.Context, profile models.ConnectionProfile, localPath, remoteName string) (*models.TransportResult, error) {
	remoteCmd := "umask 077 && cat > " + shellquote.Join(remoteName)
	result := &models.TransportResult{Command: remoteCmd}

	s.logger.Debug().
		Str("host", profile.SSHHost).
		Str("local", localPath).
		Str("remote", remoteName).
		Msg("uploading file")

	input, err := os.Open(localPath) //nolint:gosec // path is created by the caller
	if err != nil {
		result.ExitCode = models.ExitFailure
		result.Error = models.NewCommandError("failed to open local file", "", err)
		return result, nil
	}
	defer func() { _ = input.Close() }()

	client, err := s.connect(ctx, profile)
	if err != nil {
		s.connectionFailure(result, "", err)
		return result, nil
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		s.connectionFailure(result, "", fmt.Errorf("failed to create session: %w", err))
		return result, nil
	}
	defer func() { _ = session.Close() }()

	var captured bytes.Buffer
	session.SetStdin(input)
	session.SetStdout(&captured)
	session.SetStderr(&captured)

	runErr := s.wait(ctx, client, session, remoteCmd)
	s.classify(result, captured.String(), runErr)

	return result, nil
}

// TestConnection verifies SSH connectivity without touching the database.
func (s *Impl) TestConnection(ctx context.Context, profile models.ConnectionProfile) (*models.TransportResult, error) {
	return s.Run(ctx, profile, models.RemoteCommand{Program: "echo", Args: []string{"OK"}})
}

// wait runs the command and gives up when ctx is cancelled by closing the connection.
func (s *Impl) wait(ctx context.Context, client SSHClient, session SSHSession, cmd string) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		_ = client.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *Impl) classify(result *models.TransportResult, output string, err error) {
	result.Output = output
	if err == nil {
		result.ExitCode = 0
		return
	}

	var status exitStatuser
	if errors.As(err, &status) {
		result.ExitCode = status.ExitStatus()
		msg := fmt.Sprintf("remote command exited with status %d", result.ExitCode)
		if result.ExitCode == models.ExitConnection {
			result.Error = models.NewConnectionError(msg, output, err)
		} else {
			result.Error = models.NewCommandError(msg, output, err)
		}
		return
	}

	// No exit status: the channel or connection went away.
	s.connectionFailure(result, output, err)
}

func (s *Impl) connectionFailure(result *models.TransportResult, output string, err error) {
	result.ExitCode = models.ExitConnection
	result.Output = output
	result.Error = models.NewConnectionError("connection failed", output, err)
}
