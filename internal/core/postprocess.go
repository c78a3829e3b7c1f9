package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/google/uuid"
)

const (
	// maxToolOutput 错误信息中保留的外部工具输出长度
	maxToolOutput = 512

	// toolWaitDelay 进程被终止后等待输出管道关闭的最长时间
	toolWaitDelay = 2 * time.Second
)

// ToolsConfig 外部工具配置
type ToolsConfig struct {
	FFmpeg  string `mapstructure:"ffmpeg" json:"ffmpeg"`
	Soffice string `mapstructure:"soffice" json:"soffice"`
}

// DefaultToolsConfig 默认工具名称(从PATH查找)
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		FFmpeg:  "ffmpeg",
		Soffice: "soffice",
	}
}

// CommandRunner 执行外部命令
type CommandRunner interface {
	// LookPath 查找可执行文件
	LookPath(name string) (string, error)

	// Run 执行命令并返回合并的输出
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner 基于os/exec的默认实现
type execRunner struct{}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run 超时后终止整个进程组
// soffice启动器会派生soffice.bin,只杀直接子进程时输出管道不会关闭
func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = toolWaitDelay
	return cmd.CombinedOutput()
}

// ToolStatus 外部工具检测结果
type ToolStatus struct {
	Name      string
	Command   string
	Path      string
	Available bool
	Version   string
}

// CheckTools 检测ffmpeg与soffice是否可用
func CheckTools(ctx context.Context, tools ToolsConfig, runner CommandRunner) []ToolStatus {
	if runner == nil {
		runner = execRunner{}
	}

	checks := []struct {
		name, command, versionFlag string
	}{
		{"ffmpeg", tools.FFmpeg, "-version"},
		{"soffice", tools.Soffice, "--version"},
	}

	result := make([]ToolStatus, 0, len(checks))
	for _, c := range checks {
		status := ToolStatus{Name: c.name, Command: c.command}
		path, err := runner.LookPath(c.command)
		if err == nil {
			status.Path = path
			status.Available = true

			vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if out, err := runner.Run(vctx, path, c.versionFlag); err == nil {
				status.Version = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
			}
			cancel()
		}
		result = append(result, status)
	}
	return result
}

// Pipeline 下载后处理流水线
// 按发现时的原始扩展名分派: 办公文档转PDF,视频降帧,其他文件原样保留
type Pipeline struct {
	config models.DownloadConfig
	tools  ToolsConfig
	runner CommandRunner

	ffmpegPath  string
	sofficePath string
}

// NewPipeline 创建后处理流水线
// 工具可用性只在创建时检测一次; runner为nil时使用os/exec
func NewPipeline(config models.DownloadConfig, tools ToolsConfig, runner CommandRunner) *Pipeline {
	if runner == nil {
		runner = execRunner{}
	}

	p := &Pipeline{
		config: config,
		tools:  tools,
		runner: runner,
	}

	if config.ReduceVideoFPS {
		if path, err := runner.LookPath(tools.FFmpeg); err == nil {
			p.ffmpegPath = path
			utils.Debugf("✅ ffmpeg已检测到: %s", path)
		} else {
			utils.Warnf("⚠️  未检测到ffmpeg (%s),视频将保持原样", tools.FFmpeg)
		}
	}

	if config.ConvertDocuments {
		if path, err := runner.LookPath(tools.Soffice); err == nil {
			p.sofficePath = path
			utils.Debugf("✅ LibreOffice已检测到: %s", path)
		} else {
			utils.Warnf("⚠️  未检测到LibreOffice (%s),文档将保持原格式", tools.Soffice)
			utils.Info("💡 提示: 安装LibreOffice以启用文档转PDF")
		}
	}

	return p
}

// Process 对已下载的文件执行后处理
// 返回处理后的路径(可能被重命名)和需要记录的事件; 失败时原文件保持不变
func (p *Pipeline) Process(ctx context.Context, refID, path, originalExt string) (string, []models.Event) {
	switch {
	case p.config.ConvertDocuments && models.IsOfficeExt(originalExt):
		target, err := p.convertDocument(ctx, path)
		if err != nil {
			convErr := &models.ConversionError{Path: path, Cause: err}
			return path, []models.Event{
				models.NewEvent(refID, models.OutcomePostprocessFailed, models.ReasonConversion, convErr.Error(), path),
			}
		}
		detail := fmt.Sprintf("%s -> %s", filepath.Base(path), filepath.Base(target))
		return target, []models.Event{
			models.NewEvent(refID, models.OutcomeRenamed, models.ReasonNone, detail, target),
		}

	case p.config.ReduceVideoFPS && models.IsVideoExt(originalExt):
		if err := p.transcodeVideo(ctx, path); err != nil {
			tcErr := &models.TranscodeError{Path: path, Cause: err}
			return path, []models.Event{
				models.NewEvent(refID, models.OutcomePostprocessFailed, models.ReasonTranscode, tcErr.Error(), path),
			}
		}
		detail := fmt.Sprintf("fps=%d", p.config.TargetFPS)
		return path, []models.Event{
			models.NewEvent(refID, models.OutcomeRenamed, models.ReasonNone, detail, path),
		}
	}

	return path, nil
}

// convertDocument 使用LibreOffice把文档转换为同目录下的 <stem>.pdf
// 执行流程:
//  1. 在目标目录创建临时输出目录(保证rename在同一文件系统)
//  2. 使用独立的用户配置目录运行soffice,允许多个worker并发转换
//  3. 把生成的PDF移动到 <stem>.pdf
//  4. 未开启keep_original时删除原文件
func (p *Pipeline) convertDocument(ctx context.Context, path string) (string, error) {
	if p.sofficePath == "" {
		return "", fmt.Errorf("%w: %s", models.ErrToolUnavailable, p.tools.Soffice)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(path), ".convert-*")
	if err != nil {
		return "", fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	profileDir, err := filepath.Abs(filepath.Join(tmpDir, "profile"))
	if err != nil {
		return "", err
	}
	profileURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(profileDir)}).String()

	tctx, cancel := p.withTimeout(ctx)
	defer cancel()

	output, err := p.runner.Run(tctx, p.sofficePath,
		"-env:UserInstallation="+profileURL,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", tmpDir,
		path,
	)
	if err := toolError(tctx, err, output); err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	produced := filepath.Join(tmpDir, stem+".pdf")
	if info, err := os.Stat(produced); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("soffice未生成PDF: %s", lastOutput(output))
	}

	target := strings.TrimSuffix(path, filepath.Ext(path)) + ".pdf"
	if err := os.Rename(produced, target); err != nil {
		return "", fmt.Errorf("移动PDF失败: %w", err)
	}

	if !p.config.KeepOriginal {
		if err := os.Remove(path); err != nil {
			utils.Warnf("删除原文件失败 [%s]: %v", path, err)
		}
	}

	utils.Infof("📄 文档已转换: %s", filepath.Base(target))
	return target, nil
}

// transcodeVideo 使用ffmpeg降低视频帧率,结果替换原文件
func (p *Pipeline) transcodeVideo(ctx context.Context, path string) error {
	if p.ffmpegPath == "" {
		return fmt.Errorf("%w: %s", models.ErrToolUnavailable, p.tools.FFmpeg)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	tmp := filepath.Join(filepath.Dir(path), "."+stem+".transcode-"+uuid.New().String()+ext)
	defer os.Remove(tmp)

	tctx, cancel := p.withTimeout(ctx)
	defer cancel()

	output, err := p.runner.Run(tctx, p.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-filter:v", "fps="+strconv.Itoa(p.config.TargetFPS),
		"-c:v", videoCodecFor(ext),
		"-preset", "fast",
		"-c:a", "copy",
		"-y", tmp,
	)
	if err := toolError(tctx, err, output); err != nil {
		return err
	}

	if info, err := os.Stat(tmp); err != nil || info.Size() == 0 {
		return fmt.Errorf("ffmpeg未生成输出文件: %s", lastOutput(output))
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("替换原视频失败: %w", err)
	}

	utils.Infof("🎬 视频已降帧: %s (fps=%d)", filepath.Base(path), p.config.TargetFPS)
	return nil
}

// withTimeout 为单次转换设置超时
func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.TransformTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.config.TransformTimeout)
}

// videoCodecFor WebM容器不支持H.264
func videoCodecFor(ext string) string {
	if strings.EqualFold(ext, ".webm") {
		return "libvpx-vp9"
	}
	return "libx264"
}

// toolError 把外部命令的失败整理为错误,超时单独说明
func toolError(ctx context.Context, err error, output []byte) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("执行超时: %w", context.DeadlineExceeded)
	}
	if err != nil {
		return fmt.Errorf("%v: %s", err, lastOutput(output))
	}
	return nil
}

// lastOutput 截取输出末尾
func lastOutput(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxToolOutput {
		s = "..." + s[len(s)-maxToolOutput:]
	}
	return s
}
