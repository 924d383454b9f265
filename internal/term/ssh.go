package term

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// RemoteTarget is a parsed `ssh://user@host:port/path` passthrough spec: a
// terminal-execute cwd in this form makes RunRemote run the command on that
// host over SSH, inside the given remote directory.
type RemoteTarget struct {
	User string
	Host string
	Port string
	Path string
}

const remoteScheme = "ssh://"

// IsRemoteCWD reports whether cwd names an SSH passthrough target rather
// than a local directory.
func IsRemoteCWD(cwd string) bool {
	return strings.HasPrefix(cwd, remoteScheme)
}

// ParseRemoteCWD parses an ssh://user@host:port/path string.
func ParseRemoteCWD(cwd string) (RemoteTarget, error) {
	if !IsRemoteCWD(cwd) {
		return RemoteTarget{}, fmt.Errorf("term: %q is not an ssh:// target", cwd)
	}
	u, err := url.Parse(cwd)
	if err != nil {
		return RemoteTarget{}, fmt.Errorf("term: parse remote cwd: %w", err)
	}
	port := u.Port()
	if port == "" {
		port = "22"
	}
	return RemoteTarget{
		User: u.User.Username(),
		Host: u.Hostname(),
		Port: port,
		Path: u.Path,
	}, nil
}

// RunRemote executes command over SSH in target.Path, using the local
// ssh-agent for authentication (no password prompts are supported — a
// passphrase-protected key without an agent fails fast with a clear error
// rather than hanging the idle-timeout guard).
func RunRemote(target RemoteTarget, command string, timeout time.Duration) (ExecResult, error) {
	if IsDangerous(command) {
		return Reject(command, "command matches the dangerous-command denylist"), nil
	}

	auth, err := agentAuth()
	if err != nil {
		return ExecResult{}, fmt.Errorf("term: ssh auth: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // operator-provided remote dev host, not a public service
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(target.Host, target.Port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return ExecResult{}, fmt.Errorf("term: ssh dial %s: %w", addr, err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("term: ssh session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr strBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	remoteCmd := command
	if target.Path != "" {
		remoteCmd = fmt.Sprintf("cd %s && %s", shellQuote(target.Path), command)
	}

	start := time.Now()
	runErr := runWithTimeout(sess, remoteCmd, timeout)

	result := ExecResult{
		Command:  command,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Finished: true,
		Duration: time.Since(start),
	}
	if runErr == errSSHTimeout {
		result.TimedOut = true
		result.Error = "ETIMEDOUT"
		result.ExitCode = -1
		return result, nil
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	if runErr != nil {
		result.Error = runErr.Error()
		result.ExitCode = -1
		return result, nil
	}
	result.ExitCode = 0
	return result, nil
}

var errSSHTimeout = fmt.Errorf("ssh command timed out")

func runWithTimeout(sess *ssh.Session, cmd string, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()
	if timeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = sess.Signal(ssh.SIGKILL)
		return errSSHTimeout
	}
}

func agentAuth() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("SSH_AUTH_SOCK not set; no ssh-agent available for ssh:// passthrough")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("dial ssh-agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}

func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// strBuffer is a tiny io.Writer accumulating output for ssh session capture.
type strBuffer struct{ b []byte }

func (s *strBuffer) Write(p []byte) (int, error) {
	s.b = append(s.b, p...)
	return len(p), nil
}
func (s *strBuffer) String() string { return string(s.b) }
