package fingerprint

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, name string, payload []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func writeTestImage(t *testing.T, name string, tint uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			// 渐变图案，保证感知哈希有结构可提取
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: tint, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return writeTempFile(t, name, buf.Bytes())
}

func TestComputeSHA256KnownVector(t *testing.T) {
	path := writeTempFile(t, "abc.txt", []byte("abc"))

	got, err := ComputeSHA256(path)
	if err != nil {
		t.Fatalf("compute sha256: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Errorf("sha256: got %s, want %s", got, want)
	}
}

func TestComputePHashStableForIdenticalImages(t *testing.T) {
	first := writeTestImage(t, "a.png", 10)
	second := writeTestImage(t, "b.png", 10)

	hashA, err := ComputePHash(first)
	if err != nil {
		t.Fatalf("phash a: %v", err)
	}
	hashB, err := ComputePHash(second)
	if err != nil {
		t.Fatalf("phash b: %v", err)
	}
	if hashA != hashB {
		t.Errorf("identical images must hash identically: %s vs %s", hashA, hashB)
	}
	if len(hashA) != 16 {
		t.Errorf("expected 16 hex chars, got %q", hashA)
	}
}

func TestComputeImageWithUndecodablePayload(t *testing.T) {
	path := writeTempFile(t, "broken.jpg", []byte("not an image at all"))

	result, err := Compute(path, "image/jpeg")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.SHA256 == "" {
		t.Error("sha256 must be computed even for undecodable images")
	}
	if result.PHash != nil {
		t.Error("phash must be nil when the image cannot be decoded")
	}
}

func TestComputeSkipsPHashForNonImages(t *testing.T) {
	path := writeTempFile(t, "clip.mp4", []byte("fake video"))

	result, err := Compute(path, "video/mp4")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if result.PHash != nil {
		t.Error("videos must not get a perceptual hash")
	}
}

func TestEstimateDecade(t *testing.T) {
	date := time.Date(1994, 7, 4, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		date       *time.Time
		filename   string
		wantDecade string
		wantConf   float64
	}{
		{"capture date wins", &date, "scan_2005.jpg", "1990s", 0.6},
		{"year in filename", nil, "christmas_1987_02.jpg", "1980s", 0.4},
		{"year at boundary", nil, "IMG_2020.jpg", "2020s", 0.4},
		{"no signal", nil, "scan_042.jpg", "", 0},
		{"three digit number ignored", nil, "roll_195.jpg", "", 0},
	}

	for _, tc := range cases {
		decade, conf := EstimateDecade(tc.date, tc.filename)
		if tc.wantDecade == "" {
			if decade != nil {
				t.Errorf("%s: expected no decade, got %s", tc.name, *decade)
			}
			continue
		}
		if decade == nil || *decade != tc.wantDecade {
			t.Errorf("%s: got %v, want %s", tc.name, decade, tc.wantDecade)
		}
		if conf != tc.wantConf {
			t.Errorf("%s: confidence got %v, want %v", tc.name, conf, tc.wantConf)
		}
	}
}

func TestExtractMetadataWithoutExif(t *testing.T) {
	path := writeTestImage(t, "plain.png", 0)

	md := ExtractMetadata(path, "image/png")
	if md.CaptureDate != nil {
		t.Errorf("expected nil capture date for exif-less image, got %v", md.CaptureDate)
	}
	if md.Latitude != nil || md.Longitude != nil {
		t.Errorf("expected nil gps for exif-less image, got %v/%v", md.Latitude, md.Longitude)
	}

	if md := ExtractMetadata(path, "video/mp4"); md != (Metadata{}) {
		t.Errorf("expected empty metadata for non-image, got %+v", md)
	}
}
