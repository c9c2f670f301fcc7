// Package converter は外部ツール Ghostscript による PDF 圧縮を提供します。
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultProbeTimeout = 2 * time.Second
)

var (
	// ErrUnavailable は Ghostscript が見つからない、または起動できない場合に返します。
	ErrUnavailable = errors.New("ghostscript is not available")
	// ErrTimeout は Ghostscript が実行時間上限を超えた場合に返します。
	ErrTimeout = errors.New("ghostscript timed out")
)

// ExecError は Ghostscript が異常終了した場合のエラーです。
type ExecError struct {
	ExitCode    int
	Diagnostics string
	Err         error
}

func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	if e.Diagnostics == "" {
		return fmt.Sprintf("ghostscript exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("ghostscript exited with code %d: %s", e.ExitCode, e.Diagnostics)
}

func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Options は Ghostscript アダプタの設定です。
type Options struct {
	// Path は明示的に指定された実行ファイルです。空なら既定の候補を探索します。
	Path string
	// Timeout は変換1回あたりの上限です。
	Timeout time.Duration
	// ProbeTimeout は --version による存在確認の上限です。
	ProbeTimeout time.Duration
}

// Ghostscript は Ghostscript コマンドを呼び出すアダプタです。
type Ghostscript struct {
	candidates   []string
	timeout      time.Duration
	probeTimeout time.Duration
	lookPath     func(string) (string, error)
}

// NewGhostscript は Ghostscript アダプタを作成します。
func NewGhostscript(opts Options) *Ghostscript {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	probe := opts.ProbeTimeout
	if probe <= 0 {
		probe = defaultProbeTimeout
	}
	return &Ghostscript{
		candidates:   candidatePaths(opts.Path, runtime.GOOS),
		timeout:      timeout,
		probeTimeout: probe,
		lookPath:     exec.LookPath,
	}
}

// Timeout は変換の実行時間上限を返します。
func (g *Ghostscript) Timeout() time.Duration {
	return g.timeout
}

// Available は Ghostscript が実行可能かどうかを確認します。
func (g *Ghostscript) Available(ctx context.Context) error {
	_, err := g.Resolve(ctx)
	return err
}

// Resolve は候補を順に試し、--version が成功した最初のコマンドを返します。
func (g *Ghostscript) Resolve(ctx context.Context) (string, error) {
	for _, candidate := range g.candidates {
		path, err := g.lookPath(candidate)
		if err != nil {
			continue
		}
		if g.probe(ctx, path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w (tried: %s)", ErrUnavailable, strings.Join(g.candidates, ", "))
}

func (g *Ghostscript) probe(ctx context.Context, path string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()
	return exec.CommandContext(probeCtx, path, "--version").Run() == nil
}

// Convert は inputPath を profile で圧縮し outputPath に書き出します。
func (g *Ghostscript) Convert(ctx context.Context, inputPath, outputPath string, profile Profile) error {
	if !profile.Valid() {
		return fmt.Errorf("unknown compression profile %q", profile)
	}

	path, err := g.Resolve(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, ghostscriptArgs(outputPath, inputPath, profile)...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	// 子プロセスがパイプを掴んだままでも Wait が戻るようにする
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, g.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExecError{
				ExitCode:    exitErr.ExitCode(),
				Diagnostics: strings.TrimSpace(stderr.String()),
				Err:         err,
			}
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func ghostscriptArgs(outputPath, inputPath string, profile Profile) []string {
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		fmt.Sprintf("-dPDFSETTINGS=%s", profile.Setting()),
		"-dNOPAUSE",
		"-dBATCH",
		"-dQUIET",
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

func candidatePaths(explicit, goos string) []string {
	var out []string
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		out = append(out, explicit)
	}
	if goos == "windows" {
		out = append(out,
			`C:\Program Files\gs\gs10.06.0\bin\gswin64c.exe`,
			`C:\Program Files (x86)\gs\gs10.06.0\bin\gswin32c.exe`,
			"gswin64c.exe",
			"gswin32c.exe",
		)
		return out
	}
	return append(out, "gs")
}
