package transport

import (
	"context"
	"io"
)

// NetworkFetcher 是核心唯一的网络抽象点。实现方负责协议细节（超时、重定向、
// 连接失败重试、TLS），核心只关心一次同步抓取的结果。
type NetworkFetcher interface {
	FetchSync(ctx context.Context, key string) (*RawResult, error)
}

// NetworkFetcherFunc adapts a function to the NetworkFetcher interface.
type NetworkFetcherFunc func(ctx context.Context, key string) (*RawResult, error)

// FetchSync makes NetworkFetcherFunc satisfy NetworkFetcher.
func (f NetworkFetcherFunc) FetchSync(ctx context.Context, key string) (*RawResult, error) {
	return f(ctx, key)
}

// RawResult 描述一次上游响应。Body 在成功时承载正文；失败时 ErrorBody 给出
// 可读的错误描述。Release 可选，用于释放 Body 之外的传输层资源。
type RawResult struct {
	StatusCode  int
	Body        io.ReadCloser
	ContentType string
	ErrorBody   string
	Release     func() error
}

// Successful 判断状态码是否属于 2xx。
func (r *RawResult) Successful() bool {
	return r != nil && r.StatusCode/100 == 2
}

// StatusClass 返回状态码的类别，例如 404 -> 4。
func (r *RawResult) StatusClass() int {
	if r == nil {
		return 0
	}
	return r.StatusCode / 100
}
