// internal/media/ffmpeg.go
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Runner 媒体转码能力接口，按具体操作而非命令行建模，便于测试替身
type Runner interface {
	// ProbeDuration 返回媒体时长（秒）
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// TrimAudio 把音频裁剪到maxDuration秒，原地覆盖
	TrimAudio(ctx context.Context, path string, maxDuration float64) error

	// ReplaceAudio 用audioPath整体替换视频自带音轨，写入outputPath
	ReplaceAudio(ctx context.Context, videoPath, audioPath, outputPath string) error

	// CopyVideo 无音轨场景直接转存视频
	CopyVideo(ctx context.Context, videoPath, outputPath string) error

	// Concat 按给定顺序把多段视频拼成一个成片
	Concat(ctx context.Context, videoPaths []string, outputPath string) error
}

// FFmpegRunner 基于ffmpeg/ffprobe外部进程的Runner实现
type FFmpegRunner struct {
	FFmpegBin  string
	FFprobeBin string
}

// NewFFmpegRunner 创建转码执行器
func NewFFmpegRunner(ffmpegBin, ffprobeBin string) *FFmpegRunner {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpegRunner{
		FFmpegBin:  ffmpegBin,
		FFprobeBin: ffprobeBin,
	}
}

// run 执行命令并在失败时带上stderr
func run(ctx context.Context, bin string, args ...string) error {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s执行失败: %w: %s", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ProbeDuration 用ffprobe读取容器时长
func (r *FFmpegRunner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe执行失败: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("解析媒体时长失败: %w", err)
	}

	return duration, nil
}

// TrimAudio 裁剪音频到指定时长并原地替换
func (r *FFmpegRunner) TrimAudio(ctx context.Context, path string, maxDuration float64) error {
	tmpPath := path + ".tmp.mp3"

	err := run(ctx, r.FFmpegBin,
		"-y",
		"-i", path,
		"-t", strconv.FormatFloat(maxDuration, 'f', 3, 64),
		"-acodec", "mp3",
		tmpPath,
	)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}

// ReplaceAudio 替换视频音轨。配音整体取代场景自带声音，不做混音。
func (r *FFmpegRunner) ReplaceAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	return run(ctx, r.FFmpegBin,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outputPath,
	)
}

// CopyVideo 把视频原样转存到目标位置
func (r *FFmpegRunner) CopyVideo(ctx context.Context, videoPath, outputPath string) error {
	return run(ctx, r.FFmpegBin,
		"-y",
		"-i", videoPath,
		"-c", "copy",
		outputPath,
	)
}

// Concat 使用concat demuxer拼接多段视频
func (r *FFmpegRunner) Concat(ctx context.Context, videoPaths []string, outputPath string) error {
	if len(videoPaths) == 0 {
		return fmt.Errorf("没有可拼接的视频")
	}

	// 拼接清单写到输出目录，避免并发任务互相覆盖
	listFile, err := os.CreateTemp(filepath.Dir(outputPath), "concat_*.txt")
	if err != nil {
		return fmt.Errorf("创建拼接清单失败: %w", err)
	}
	listPath := listFile.Name()
	defer os.Remove(listPath)

	for _, videoPath := range videoPaths {
		absPath, err := filepath.Abs(videoPath)
		if err != nil {
			listFile.Close()
			return err
		}
		if _, err := fmt.Fprintf(listFile, "file '%s'\n", absPath); err != nil {
			listFile.Close()
			return err
		}
	}
	if err := listFile.Close(); err != nil {
		return err
	}

	// 流拷贝拼接，不重新编码
	return run(ctx, r.FFmpegBin,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	)
}
