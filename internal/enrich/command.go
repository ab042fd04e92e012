package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// CommandEnricher 通过外部命令执行富化。命令收到媒体文件路径作为
// 最后一个参数，在 stdout 输出 JSON：
//
//	{"faces":[{"x":..,"y":..,"width":..,"height":..,"confidence":..}],
//	 "caption":"...", "ref":"..."}
//
// 模型的加载与卸载发生在子进程生命周期内，Load/Unload 无事可做。
type CommandEnricher struct {
	kind    Kind
	command []string
}

func NewCommandEnricher(kind Kind, command []string) *CommandEnricher {
	return &CommandEnricher{kind: kind, command: command}
}

func (c *CommandEnricher) Kind() Kind  { return c.kind }
func (c *CommandEnricher) Load() error { return nil }
func (c *CommandEnricher) Unload()     {}

func (c *CommandEnricher) Run(ctx context.Context, path string) (Output, error) {
	if len(c.command) == 0 {
		return Output{}, fmt.Errorf("no command configured")
	}

	args := append(append([]string(nil), c.command[1:]...), path)
	out, err := exec.CommandContext(ctx, c.command[0], args...).Output()
	if err != nil {
		return Output{}, fmt.Errorf("run %s: %w", c.command[0], err)
	}

	var payload struct {
		Faces   []Face `json:"faces"`
		Caption string `json:"caption"`
		Ref     string `json:"ref"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return Output{}, fmt.Errorf("decode %s output: %w", c.command[0], err)
	}
	return Output{Faces: payload.Faces, Caption: payload.Caption, Ref: payload.Ref}, nil
}
