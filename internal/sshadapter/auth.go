package sshadapter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

func authMethods(cfg HostConfig) ([]ssh.AuthMethod, error) {
	if cfg.ClientKeyPath != "" {
		signer, err := loadSigner(cfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("sshadapter: load client key %q: %w", cfg.ClientKeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	if auth := agentAuth(); auth != nil {
		return []ssh.AuthMethod{auth}, nil
	}

	return nil, fmt.Errorf("sshadapter: no client key configured and no ssh-agent available for %s", cfg.Host)
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

func agentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}
	client := agent.NewClient(conn)
	return ssh.PublicKeysCallback(client.Signers)
}

func hostKeyCallback(cfg HostConfig) ssh.HostKeyCallback {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey()
	}

	path := cfg.KnownHostsPath
	if path == "" {
		path = os.ExpandEnv("$HOME/.ssh/known_hosts")
	}

	callback, err := loadKnownHosts(path)
	if err != nil {
		// No known_hosts to check against: accept any host key rather than
		// refuse to connect outright.
		return ssh.InsecureIgnoreHostKey()
	}
	return callback
}

func loadKnownHosts(path string) (ssh.HostKeyCallback, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	known := make(map[string]ssh.PublicKey)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		hostname, keyType, keyData := parts[0], parts[1], parts[2]
		keyBytes, err := base64.StdEncoding.DecodeString(keyData)
		if err != nil {
			continue
		}
		pubKey, err := ssh.ParsePublicKey(keyBytes)
		if err != nil {
			continue
		}
		known[hostname+":"+keyType] = pubKey
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		lookup := hostname + ":" + key.Type()
		knownKey, ok := known[lookup]
		if !ok {
			return fmt.Errorf("sshadapter: host key not found in known_hosts: %s", hostname)
		}
		if !bytes.Equal(key.Marshal(), knownKey.Marshal()) {
			return fmt.Errorf("sshadapter: host key mismatch for %s", hostname)
		}
		return nil
	}, nil
}
