package publish

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"
)

// FTP 把落盘文件上传到 FTP 服务器
type FTP struct {
	Addr       string // host:port，缺省端口 21
	Username   string
	Password   string
	RemotePath string
	Timeout    time.Duration
	Log        *zap.Logger
}

func (f *FTP) Name() string { return "ftp" }

// Publish 登录后 STOR 覆盖远端文件
func (f *FTP) Publish(ctx context.Context, artifactPath string) error {
	file, err := os.Open(artifactPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	conn, err := ftp.Dial(withDefaultPort(f.Addr, "21"), ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return fmt.Errorf("dial ftp %s: %w", f.Addr, err)
	}
	defer func() {
		if err := conn.Quit(); err != nil && f.Log != nil {
			f.Log.Warn("Failed to close ftp connection", zap.Error(err))
		}
	}()

	if err := conn.Login(f.Username, f.Password); err != nil {
		return fmt.Errorf("ftp login: %w", err)
	}
	if err := conn.Stor(f.RemotePath, file); err != nil {
		return fmt.Errorf("ftp stor %s: %w", f.RemotePath, err)
	}
	return nil
}

// withDefaultPort host 没带端口时补上
func withDefaultPort(addr, port string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, port)
}
