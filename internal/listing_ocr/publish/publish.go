package publish

import (
	"context"
)

// Publisher 把落盘文件推送到外部，失败只记日志，不影响本轮结果
type Publisher interface {
	Name() string
	Publish(ctx context.Context, artifactPath string) error
}
