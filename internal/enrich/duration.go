package enrich

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
)

// DurationProbe 返回媒体文件的时长（秒），探测不到返回 0。
type DurationProbe func(ctx context.Context, path string) float64

// FFProbeDuration 通过 ffprobe 读取容器时长。
// ffprobe 不可用或解析失败时返回 0，让时长闸门放行。
func FFProbeDuration(ctx context.Context, path string) float64 {
	out, err := exec.CommandContext(
		ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	).Output()
	if err != nil {
		return 0
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return duration
}
