package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHRunner executes commands on a remote container host over ssh.
// Dir and Env are rendered into the remote shell command.
type SSHRunner struct {
	Host                        string
	Port                        string
	User                        string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}
	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// remoteCommand renders spec as one shell line for the remote side.
func remoteCommand(spec CommandSpec) string {
	var parts []string
	if spec.Dir != "" {
		parts = append(parts, "cd "+shellEscape(spec.Dir)+" &&")
	}
	if env := spec.EnvList(); len(env) > 0 {
		parts = append(parts, joinCommand("env", env))
	}
	parts = append(parts, joinCommand(spec.Program, spec.Args))
	return strings.Join(parts, " ")
}

func (r SSHRunner) Run(ctx context.Context, spec CommandSpec) (Result, error) {
	if err := validate(spec); err != nil {
		return Result{ExitCode: spawnFailureExitCode}, err
	}
	client, session, err := r.open(spec)
	if err != nil {
		return Result{ExitCode: spawnFailureExitCode}, err
	}
	defer client.Close()
	defer session.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = session.Signal(ssh.SIGKILL)
		_ = client.Close()
	})
	defer stop()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	log.Debug().Str("host", r.Host).Str("command", spec.String()).Msg("runner.SSHRunner.Run")
	err = session.Run(remoteCommand(spec))
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
	}
	code, err := sshExitCode(err)
	res.ExitCode = code
	return res, err
}

func (r SSHRunner) Spawn(ctx context.Context, spec CommandSpec) (Process, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	client, session, err := r.open(spec)
	if err != nil {
		return nil, err
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		client.Close()
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		client.Close()
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	if err := session.Start(remoteCommand(spec)); err != nil {
		client.Close()
		return nil, &SpawnError{Spec: spec, Err: err}
	}
	log.Debug().Str("host", r.Host).Str("command", spec.String()).Msg("runner.SSHRunner.Spawn")

	wait := func() (int, error) {
		defer client.Close()
		return sshExitCode(session.Wait())
	}
	kill := func() error {
		if err := session.Signal(ssh.SIGKILL); err != nil {
			log.Debug().Err(err).Msg("runner.SSHRunner signal failed")
		}
		return client.Close()
	}
	return startStreamProcess(ctx, stdout, stderr, wait, kill), nil
}

func sshExitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

func (r SSHRunner) open(spec CommandSpec) (*ssh.Client, *ssh.Session, error) {
	client, err := r.dial()
	if err != nil {
		return nil, nil, &SpawnError{Spec: spec, Err: err}
	}
	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, nil, &SpawnError{Spec: spec, Err: err}
	}
	return client, session, nil
}

func (r SSHRunner) dial() (*ssh.Client, error) {
	address, err := r.address()
	if err != nil {
		return nil, err
	}

	config, err := r.clientConfig()
	if err != nil {
		return nil, err
	}

	if r.Timeout <= 0 {
		return ssh.Dial("tcp", address, config)
	}

	conn, err := net.DialTimeout("tcp", address, r.Timeout)
	if err != nil {
		return nil, err
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

func (r SSHRunner) address() (string, error) {
	host := strings.TrimSpace(r.Host)
	switch {
	case host == "":
		return "", ErrSSHHost
	case r.Port != "":
		return net.JoinHostPort(host, r.Port), nil
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "22")
	}
	return host, nil
}

// clientConfig authenticates with the key at KeyPath and checks host keys
// against known_hosts unless InsecureSkipHostKeyChecking is set.
func (r SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	if r.User == "" {
		return nil, ErrSSHUser
	}
	if r.KeyPath == "" {
		return nil, ErrSSHKey
	}
	pem, err := os.ReadFile(r.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("runner: read ssh key: %w", err)
	}
	var signer ssh.Signer
	if len(r.Passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, r.Passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("runner: parse ssh key %s: %w", r.KeyPath, err)
	}

	config := &ssh.ClientConfig{
		User:            r.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         r.Timeout,
	}
	if r.InsecureSkipHostKeyChecking {
		return config, nil
	}
	path := strings.TrimSpace(r.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKnownHosts, err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	if config.HostKeyCallback, err = knownhosts.New(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKnownHosts, err)
	}
	return config, nil
}
