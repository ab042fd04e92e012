package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/rwcarlsen/goexif/exif"
)

// Result 是一次指纹计算的产物。PHash 仅图片类资产会有，
// 是 64 位感知哈希的十六进制表示。
type Result struct {
	SHA256 string
	PHash  *string
}

// Compute 计算文件指纹。SHA256 流式计算，内存占用恒定；
// 感知哈希只对图片计算，解码失败不视为错误（损坏图片照常入库）。
func Compute(path, mimeType string) (Result, error) {
	sha, err := ComputeSHA256(path)
	if err != nil {
		return Result{}, err
	}

	result := Result{SHA256: sha}
	if strings.HasPrefix(mimeType, "image/") {
		if phash, err := ComputePHash(path); err == nil {
			result.PHash = &phash
		}
	}
	return result, nil
}

// ComputeSHA256 流式计算文件的 SHA256。
func ComputeSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// ComputePHash 计算图片的 64 位感知哈希，返回 16 位十六进制字符串。
func ComputePHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return "", fmt.Errorf("perception hash: %w", err)
	}
	return fmt.Sprintf("%016x", hash.GetHash()), nil
}

// Metadata 是从图片 EXIF 提取的拍摄信息，缺失的字段为 nil。
type Metadata struct {
	CaptureDate *time.Time
	Latitude    *float64
	Longitude   *float64
}

// ExtractMetadata 从图片 EXIF 里取拍摄时间和 GPS 坐标。
// 非图片、无 EXIF 或字段缺失都不算错误，对应字段保持 nil。
func ExtractMetadata(path, mimeType string) Metadata {
	var md Metadata
	if !strings.HasPrefix(mimeType, "image/") {
		return md
	}

	file, err := os.Open(path)
	if err != nil {
		return md
	}
	defer file.Close()

	meta, err := exif.Decode(file)
	if err != nil {
		return md
	}
	if taken, err := meta.DateTime(); err == nil {
		md.CaptureDate = &taken
	}
	if lat, lon, err := meta.LatLong(); err == nil {
		md.Latitude = &lat
		md.Longitude = &lon
	}
	return md
}

var filenameYear = regexp.MustCompile(`(19[4-9]\d|20[0-2]\d)`)

// EstimateDecade 估算资产所属年代。优先用拍摄时间（置信度 0.6），
// 其次从文件名里找四位年份（置信度 0.4）。
func EstimateDecade(captureDate *time.Time, filename string) (*string, float64) {
	if captureDate != nil {
		decade := formatDecade(captureDate.Year())
		return &decade, 0.6
	}

	if match := filenameYear.FindString(filename); match != "" {
		year, err := strconv.Atoi(match)
		if err == nil {
			decade := formatDecade(year)
			return &decade, 0.4
		}
	}

	return nil, 0
}

func formatDecade(year int) string {
	return fmt.Sprintf("%ds", year/10*10)
}
