package counts

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// Source lists and opens release CSV files.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

func isCSV(name string) bool {
	return strings.EqualFold(path.Ext(name), ".csv")
}

// DirSource reads releases from a local directory.
type DirSource struct {
	Dir string
}

func (d DirSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isCSV(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d DirSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.Dir, name))
}

// FTPSource reads releases from a directory on an FTP mirror. Each call
// uses its own connection.
type FTPSource struct {
	Addr     string // host:port
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
}

func (f FTPSource) dial(ctx context.Context) (*ftp.ServerConn, error) {
	timeout := f.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conn, err := ftp.Dial(f.Addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	user, pass := f.User, f.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return conn, nil
}

func (f FTPSource) List(ctx context.Context) ([]string, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	entries, err := conn.List(f.Dir)
	if err != nil {
		return nil, fmt.Errorf("ftp list %s: %w", f.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Type == ftp.EntryTypeFile && isCSV(e.Name) {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f FTPSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := conn.Retr(path.Join(f.Dir, name))
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp retr %s: %w", name, err)
	}
	return &ftpFile{resp: resp, conn: conn}, nil
}

type ftpFile struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Read(p []byte) (int, error) {
	return f.resp.Read(p)
}

func (f *ftpFile) Close() error {
	err := f.resp.Close()
	if qerr := f.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
