// Package sshadapter dials the SSH connections that carry a ChanPro
// transport to a remote sous process, and caches them per (host, requested
// user) pair so that recipes targeting the same effective remote identity
// share one connection and one process.
package sshadapter

// HostConfig describes one entry of the head's "souss" table: how to reach
// a host over SSH and what command starts the sous process there.
type HostConfig struct {
	// Host is the network address (hostname or IP) to dial.
	Host string
	// SSHUser is the identity the SSH connection itself authenticates as.
	SSHUser string
	// Port defaults to 22 when zero.
	Port int
	// ClientKeyPath, if set, is read and parsed as the private key to
	// authenticate with. If empty, an ssh-agent connection is tried instead.
	ClientKeyPath string
	// KnownHostsPath, if set, is checked against the remote host key. If
	// empty, $HOME/.ssh/known_hosts is used. If the file can't be read, host
	// key verification is skipped and any host key is accepted.
	KnownHostsPath string
	// InsecureIgnoreHostKey skips host key verification entirely. Intended
	// for tests and explicitly-opted-into local/throwaway hosts.
	InsecureIgnoreHostKey bool
	// SousCommand is the remote command line that starts the sous process.
	SousCommand string
	// DebugLogging tees the sous process's stdin/stdout/stderr to
	// /tmp/sconnyin-<conn-id>, /tmp/sconnyout-<conn-id>, /tmp/sconnyerr-<conn-id> on
	// the remote host, for diagnosing a misbehaving sous.
	DebugLogging bool
}

func (c HostConfig) port() int {
	if c.Port == 0 {
		return 22
	}
	return c.Port
}
