// Package ftpfile implements a write-only archival audioio.Object: samples
// are encoded to a local WAV spool file and shipped to an FTP server on
// Close, using github.com/jlaffaye/ftp.
package ftpfile

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/antorsae/ecasound/internal/audioio"
	"github.com/antorsae/ecasound/internal/audioio/wavfile"
	"github.com/antorsae/ecasound/internal/errors"
	"github.com/jlaffaye/ftp"
)

// ComponentFtpfile identifies errors raised by this package.
const ComponentFtpfile = "audioio.ftpfile"

// Config addresses the FTP server and remote path for an archival output.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	RemotePath string // directory, relative to the FTP root
	Timeout    time.Duration
}

// File is a write-only, non-realtime audioio.Object. It spools encoded
// audio to a local temp WAV file and uploads it on Close, matching the
// engine's single open/write.../close lifecycle for non-realtime outputs.
type File struct {
	cfg        Config
	remoteName string
	spool      *wavfile.File
	spoolPath  string
}

var _ audioio.Object = (*File)(nil)
var _ audioio.Writer = (*File)(nil)

// New creates an FTP-backed output named remoteName (e.g. "take-003.wav")
// that will be written beneath cfg.RemotePath on Close.
func New(cfg Config, remoteName string, channels, sampleRate, bitDepth int) *File {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	spoolPath := path.Join(os.TempDir(), "ecasound-ftp-"+remoteName)
	return &File{
		cfg:        cfg,
		remoteName: remoteName,
		spoolPath:  spoolPath,
		spool:      wavfile.NewWriter(spoolPath, channels, sampleRate, bitDepth),
	}
}

func (f *File) Label() string            { return fmt.Sprintf("ftp://%s/%s", f.cfg.Host, f.remoteName) }
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

// Open opens the local spool file; the remote connection is made lazily in
// Close, once the full recording is available to stream in one transfer.
func (f *File) Open(ctx context.Context) error {
	return f.spool.Open(ctx)
}

// WriteBuffer appends to the local spool file.
func (f *File) WriteBuffer(buf audioio.Buffer) error {
	return f.spool.WriteBuffer(buf)
}

// Close finalizes the spool file and uploads it over FTP, then removes the
// local copy.
func (f *File) Close() error {
	if err := f.spool.Close(); err != nil {
		return err
	}
	defer os.Remove(f.spoolPath)

	conn, err := f.connect(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	if err := f.ensureDir(conn, f.cfg.RemotePath); err != nil {
		return err
	}

	local, err := os.Open(f.spoolPath)
	if err != nil {
		return errors.New(err).Component(ComponentFtpfile).Category(errors.CategoryOutput).
			Context("operation", "open_spool").Build()
	}
	defer local.Close()

	remotePath := path.Join(f.cfg.RemotePath, f.remoteName)
	if err := conn.Stor(remotePath, local); err != nil {
		return errors.New(err).Component(ComponentFtpfile).Category(errors.CategoryOutput).
			Context("operation", "stor").Context("remote_path", remotePath).Build()
	}
	return nil
}

func (f *File) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(f.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, errors.New(err).Component(ComponentFtpfile).Category(errors.CategorySetup).
			Context("operation", "dial").Context("host", f.cfg.Host).Build()
	}
	if f.cfg.Username != "" {
		if err := conn.Login(f.cfg.Username, f.cfg.Password); err != nil {
			_ = conn.Quit()
			return nil, errors.New(err).Component(ComponentFtpfile).Category(errors.CategorySetup).
				Context("operation", "login").Build()
		}
	}
	return conn, nil
}

func (f *File) ensureDir(conn *ftp.ServerConn, dir string) error {
	current := ""
	for _, part := range strings.Split(dir, "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		if err := conn.MakeDir(current); err != nil && !strings.Contains(err.Error(), "File exists") {
			return errors.New(err).Component(ComponentFtpfile).Category(errors.CategorySetup).
				Context("operation", "mkdir").Context("path", current).Build()
		}
	}
	return nil
}
