package writerbackends

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"mediaconv/logger"
)

const sftpDialTimeout = 10 * time.Second

// sftpTarget is the parsed accessInfo of an SFTP delivery.
type sftpTarget struct {
	addr       string
	user       string
	remotePath string
	auth       []ssh.AuthMethod
	hostKey    ssh.HostKeyCallback
}

// parseSFTPTarget reads host, user and remotePath (required), port
// (default 22), password or privateKey (base64 or PEM) and an optional
// hostKey authorized_keys line that pins the server key.
func parseSFTPTarget(accessInfo map[string]string) (*sftpTarget, error) {
	host, user, remotePath := accessInfo["host"], accessInfo["user"], accessInfo["remotePath"]
	if host == "" || user == "" || remotePath == "" {
		return nil, fmt.Errorf("missing required accessInfo keys: host, user, remotePath")
	}
	port := accessInfo["port"]
	if port == "" {
		port = "22"
	}

	auth, err := sftpAuth(accessInfo["privateKey"], accessInfo["password"])
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallbackFor(accessInfo["hostKey"])
	if err != nil {
		return nil, err
	}
	return &sftpTarget{
		addr:       net.JoinHostPort(host, port),
		user:       user,
		remotePath: remotePath,
		auth:       auth,
		hostKey:    hostKey,
	}, nil
}

// sftpAuth prefers key authentication over a password.
func sftpAuth(privateKey, password string) ([]ssh.AuthMethod, error) {
	switch {
	case privateKey != "":
		pem, err := base64.StdEncoding.DecodeString(privateKey)
		if err != nil {
			pem = []byte(privateKey)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	case password != "":
		return []ssh.AuthMethod{ssh.Password(password)}, nil
	}
	return nil, fmt.Errorf("no auth method provided; set password or privateKey in accessInfo")
}

func hostKeyCallbackFor(hostKey string) (ssh.HostKeyCallback, error) {
	if hostKey == "" {
		logger.Warnf("sftp: no hostKey configured, server identity is not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(hostKey))
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}
	return ssh.FixedHostKey(pub), nil
}

// dial opens an SSH connection whose TCP dial honors ctx.
func (t *sftpTarget) dial(ctx context.Context) (*ssh.Client, error) {
	d := net.Dialer{Timeout: sftpDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", t.addr, err)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, t.addr, &ssh.ClientConfig{
		User:            t.user,
		Auth:            t.auth,
		HostKeyCallback: t.hostKey,
		Timeout:         sftpDialTimeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", t.addr, err)
	}
	return ssh.NewClient(cc, chans, reqs), nil
}

// UploadToSFTPWithCreds writes the output next to its final name and renames
// it into place, so readers never see a partial file.
func UploadToSFTPWithCreds(ctx context.Context, accessInfo map[string]string, reader io.Reader) error {
	target, err := parseSFTPTarget(accessInfo)
	if err != nil {
		return err
	}

	sshClient, err := target.dial(ctx)
	if err != nil {
		return err
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("create sftp client: %w", err)
	}
	defer client.Close()

	if dir := path.Dir(target.remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return fmt.Errorf("ensure remote dir %s: %w", dir, err)
		}
	}

	partial := target.remotePath + ".part"
	f, err := client.Create(partial)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", partial, err)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: reader}); err != nil {
		f.Close()
		_ = client.Remove(partial)
		return fmt.Errorf("copy to remote file %s: %w", partial, err)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(partial)
		return fmt.Errorf("close remote file %s: %w", partial, err)
	}
	if err := client.PosixRename(partial, target.remotePath); err != nil {
		_ = client.Remove(partial)
		return fmt.Errorf("rename %s: %w", target.remotePath, err)
	}

	logger.Infof("Successfully uploaded '%s' to %s", target.remotePath, target.addr)
	return nil
}
