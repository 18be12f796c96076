package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Git 把落盘文件提交到本地仓库并推送
type Git struct {
	Dir         string
	Remote      string // 为空时只提交不推送
	Branch      string // 为空时推送当前 HEAD
	Message     string
	AuthorName  string
	AuthorEmail string
	Log         *zap.Logger
}

func (g *Git) Name() string { return "git" }

// Publish add / commit / push。没有改动时视为成功，也不推送。
func (g *Git) Publish(ctx context.Context, artifactPath string) error {
	rel, err := g.stage(artifactPath)
	if err != nil {
		return err
	}
	if _, err := g.run(ctx, "add", "--", rel); err != nil {
		return err
	}

	// diff --cached --quiet：退出码 1 表示有暂存的改动
	if _, err := g.run(ctx, "diff", "--cached", "--quiet", "--", rel); err == nil {
		if g.Log != nil {
			g.Log.Info("Nothing to commit", zap.String("path", rel))
		}
		return nil
	} else if !isExitCode(err, 1) {
		return err
	}

	msg := g.Message
	if msg == "" {
		msg = "Update listing records"
	}
	if _, err := g.run(ctx, "commit", "-m", msg, "--", rel); err != nil {
		return err
	}
	if g.Remote == "" {
		return nil
	}
	ref := g.Branch
	if ref == "" {
		ref = "HEAD"
	}
	_, err = g.run(ctx, "push", g.Remote, ref)
	return err
}

// stage 文件不在仓库里时复制进去，返回仓库内的相对路径
func (g *Git) stage(artifactPath string) (string, error) {
	dir, err := filepath.Abs(g.Dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dir, abs)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(rel), nil
	}

	name := filepath.Base(abs)
	if err := copyFile(abs, filepath.Join(dir, name)); err != nil {
		return "", fmt.Errorf("copy artifact into repository: %w", err)
	}
	return name, nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	var full []string
	if g.AuthorName != "" {
		full = append(full, "-c", "user.name="+g.AuthorName)
	}
	if g.AuthorEmail != "" {
		full = append(full, "-c", "user.email="+g.AuthorEmail)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = g.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), &gitError{args: args, output: strings.TrimSpace(out.String()), err: err}
	}
	return out.String(), nil
}

type gitError struct {
	args   []string
	output string
	err    error
}

func (e *gitError) Error() string {
	if e.output == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.args, " "), e.err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.args, " "), e.err, e.output)
}

func (e *gitError) Unwrap() error { return e.err }

func isExitCode(err error, code int) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee) && ee.ExitCode() == code
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
