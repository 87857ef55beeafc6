package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv(configEnv, "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsModes(t *testing.T) {
	t.Setenv(configEnv, "")

	opts, err := parseCLIFlags([]string{"-fetch", "https://assets.example.com/a.png", "-o", "a.png", "-name", "logo"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.fetchURL != "https://assets.example.com/a.png" || opts.outPath != "a.png" || opts.cacheName != "logo" {
		t.Fatalf("fetch 参数解析错误: %+v", opts)
	}
	if opts.configPath != "" {
		t.Fatalf("未指定配置时路径应为空，得到 %s", opts.configPath)
	}

	if _, err := parseCLIFlags([]string{"-fetch", "https://a/b", "-clear-cache"}); err == nil {
		t.Fatalf("-fetch 与 -clear-cache 同时出现应报错")
	}
	if _, err := parseCLIFlags([]string{"-o", "out.bin"}); err == nil {
		t.Fatalf("单独使用 -o 应报错")
	}
	if _, err := parseCLIFlags([]string{"-name", "logo"}); err == nil {
		t.Fatalf("单独使用 -name 应报错")
	}
	if _, err := parseCLIFlags([]string{"-unknown"}); err == nil {
		t.Fatalf("未知参数应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "asset-cache") {
		t.Fatalf("version 输出应包含 asset-cache 标识")
	}
}

func newAssetServer(t *testing.T, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/missing.png" {
			http.Error(w, "not here", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func cacheConfig(t *testing.T, cacheDir string) string {
	t.Helper()
	return writeConfigFile(t, fmt.Sprintf(`
LogLevel = "warn"
CacheDir = "%s"
Timeout = "2s"
ConnectTimeout = "1s"
MaxRetries = 0
ListenPort = 5000
`, cacheDir))
}

func TestRunFetchToStdoutThenCache(t *testing.T) {
	srv, hits := newAssetServer(t, "PNGDATA")
	cacheDir := filepath.Join(t.TempDir(), "cache")
	configPath := cacheConfig(t, cacheDir)

	for i := 0; i < 2; i++ {
		useBufferWriters(t)
		code := run(cliOptions{configPath: configPath, fetchURL: srv.URL + "/tiles/1.png"})
		if code != 0 {
			t.Fatalf("第 %d 次抓取失败，退出码 %d: %s", i+1, code, stdErrBuffer().String())
		}
		if got := stdOutBuffer().String(); got != "PNGDATA" {
			t.Fatalf("stdout 应只包含正文，得到 %q", got)
		}
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Fatalf("第二次抓取应命中缓存，上游请求次数 %d", n)
	}
}

func TestRunFetchToFile(t *testing.T) {
	srv, _ := newAssetServer(t, "PNGDATA")
	dir := t.TempDir()
	configPath := cacheConfig(t, filepath.Join(dir, "cache"))
	out := filepath.Join(dir, "out.png")

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, fetchURL: srv.URL + "/tiles/1.png", outPath: out})
	if code != 0 {
		t.Fatalf("抓取失败，退出码 %d: %s", code, stdErrBuffer().String())
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("读取输出失败: %v", err)
	}
	if string(data) != "PNGDATA" {
		t.Fatalf("输出文件内容错误: %q", data)
	}
	if stdOutBuffer().Len() != 0 {
		t.Fatalf("写文件时 stdout 应为空")
	}
}

func TestRunFetchFailure(t *testing.T) {
	srv, _ := newAssetServer(t, "PNGDATA")
	configPath := cacheConfig(t, filepath.Join(t.TempDir(), "cache"))

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, fetchURL: srv.URL + "/missing.png"})
	if code == 0 {
		t.Fatalf("404 应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "Failed with 404") {
		t.Fatalf("stderr 应包含上游状态码，得到 %s", stdErrBuffer().String())
	}
}

func TestRunClearCache(t *testing.T) {
	srv, hits := newAssetServer(t, "PNGDATA")
	cacheDir := filepath.Join(t.TempDir(), "cache")
	configPath := cacheConfig(t, cacheDir)
	key := srv.URL + "/tiles/1.png"

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, fetchURL: key}); code != 0 {
		t.Fatalf("抓取失败: %s", stdErrBuffer().String())
	}
	if code := run(cliOptions{configPath: configPath, clearCache: true}); code != 0 {
		t.Fatalf("清理缓存失败: %s", stdErrBuffer().String())
	}
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatalf("读取缓存目录失败: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("清理后缓存目录应为空，剩余 %d 项", len(entries))
	}

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, fetchURL: key}); code != 0 {
		t.Fatalf("再次抓取失败: %s", stdErrBuffer().String())
	}
	if n := atomic.LoadInt32(hits); n != 2 {
		t.Fatalf("清理后应重新回源，上游请求次数 %d", n)
	}
}
