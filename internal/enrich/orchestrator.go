package enrich

import (
	"context"
	"fmt"
	"log"

	"github.com/darnellt0/family-archive-vault/internal/repository"
)

// Kind 标识一种富化能力。
type Kind string

const (
	KindFaces      Kind = "faces"
	KindCaption    Kind = "caption"
	KindEmbedding  Kind = "embedding"
	KindTranscript Kind = "transcript"
)

// Face 是一张检出人脸的包围盒。
type Face struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Output 是单个富化器的产物，按 Kind 只填对应字段。
type Output struct {
	Faces   []Face
	Caption string
	// Ref 指向落盘的大产物（embedding、transcript），不内联进资产记录。
	Ref string
}

// LoadableEnricher 是对外部模型的窄能力接口。
// Load/Unload 把峰值资源占用约束在同一时刻只有一个模型在载。
type LoadableEnricher interface {
	Kind() Kind
	Load() error
	Run(ctx context.Context, path string) (Output, error)
	Unload()
}

// Result 汇总一次资产富化的全部产物和失败记录。
type Result struct {
	Faces                 []Face   `json:"faces,omitempty"`
	Caption               *string  `json:"caption,omitempty"`
	EmbeddingRef          *string  `json:"embedding_ref,omitempty"`
	TranscriptRef         *string  `json:"transcript_ref,omitempty"`
	TranscriptionDeferred bool     `json:"transcription_deferred,omitempty"`
	Errors                []string `json:"errors,omitempty"`
}

// Orchestrator 串行驱动各富化器。
// 同一资产的富化器绝不并发执行，GPU 资源是独占的。
type Orchestrator struct {
	imageEnrichers       []LoadableEnricher
	transcriber          LoadableEnricher
	transcribeMaxSeconds float64
	logger               *log.Logger
}

func NewOrchestrator(imageEnrichers []LoadableEnricher, transcriber LoadableEnricher, transcribeMaxSeconds float64, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		imageEnrichers:       imageEnrichers,
		transcriber:          transcriber,
		transcribeMaxSeconds: transcribeMaxSeconds,
		logger:               logger,
	}
}

// Enrich 按资产类型挑选富化器并逐个执行。
// 单个富化器失败只记录进 Errors，不中断后续富化器。
func (o *Orchestrator) Enrich(ctx context.Context, path string, assetType repository.AssetType, durationSeconds float64) Result {
	var result Result

	switch assetType {
	case repository.AssetTypeImage:
		for _, enricher := range o.imageEnrichers {
			o.runOne(ctx, enricher, path, &result)
		}

	case repository.AssetTypeVideo, repository.AssetTypeAudio:
		if o.transcriber == nil {
			return result
		}
		// 时长闸门：超限的视频/音频不做失败尝试，直接标记延后转写
		if o.transcribeMaxSeconds > 0 && durationSeconds > o.transcribeMaxSeconds {
			if o.logger != nil {
				o.logger.Printf("时长 %.0fs 超过转写上限 %.0fs，标记延后转写", durationSeconds, o.transcribeMaxSeconds)
			}
			result.TranscriptionDeferred = true
			return result
		}
		o.runOne(ctx, o.transcriber, path, &result)
	}

	return result
}

// runOne 执行单个富化器，Load 紧贴 Run 之前，Unload 在所有退出路径上执行。
func (o *Orchestrator) runOne(ctx context.Context, enricher LoadableEnricher, path string, result *Result) {
	output, err := func() (out Output, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("enricher panic: %v", r)
			}
		}()

		if err := enricher.Load(); err != nil {
			return Output{}, fmt.Errorf("load: %w", err)
		}
		defer enricher.Unload()

		return enricher.Run(ctx, path)
	}()

	if err != nil {
		if o.logger != nil {
			o.logger.Printf("富化器 %s 失败: %v", enricher.Kind(), err)
		}
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", enricher.Kind(), err))
		return
	}

	switch enricher.Kind() {
	case KindFaces:
		result.Faces = output.Faces
	case KindCaption:
		if output.Caption != "" {
			caption := output.Caption
			result.Caption = &caption
		}
	case KindEmbedding:
		if output.Ref != "" {
			ref := output.Ref
			result.EmbeddingRef = &ref
		}
	case KindTranscript:
		if output.Ref != "" {
			ref := output.Ref
			result.TranscriptRef = &ref
		}
	}
}
