package format

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), []color.Color{color.Black, color.White})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func mp4Bytes() []byte {
	return []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 0, 0}
}

func TestClassifyByExtension(t *testing.T) {
	cases := []struct {
		name string
		want Class
	}{
		{"clip1.mp4", ClassVideo},
		{"movie.MOV", ClassVideo},
		{"anim.gif", ClassAnimated},
		{"sticker.webp", ClassAnimated},
		{"photo.heic", ClassConvertibleStill},
		{"shot1.png", ClassStill},
		{"pic.JPEG", ClassStill},
	}
	for _, c := range cases {
		if got := Classify(c.name, "", nil); got != c.want {
			t.Errorf("Classify(%s) = %s, want %s", c.name, got, c.want)
		}
	}
}

func TestClassifyFallsBackToMime(t *testing.T) {
	if got := Classify("download", "video/mp4", nil); got != ClassVideo {
		t.Errorf("mime video/mp4 = %s", got)
	}
	if got := Classify("download", "image/heic", nil); got != ClassConvertibleStill {
		t.Errorf("mime image/heic = %s", got)
	}
	if got := Classify("download", "image/png; charset=binary", nil); got != ClassStill {
		t.Errorf("mime with params = %s", got)
	}
}

func TestClassifyFallsBackToContent(t *testing.T) {
	cases := []struct {
		data []byte
		want Class
	}{
		{mp4Bytes(), ClassVideo},
		{[]byte("GIF89a......."), ClassAnimated},
		{append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 8)...), ClassStill},
		{append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 12)...), ClassVideo},
		{[]byte{0, 0, 0, 24, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'c', 0, 0, 0, 0}, ClassConvertibleStill},
	}
	for i, c := range cases {
		if got := Classify("blob", "application/octet-stream", c.data); got != c.want {
			t.Errorf("case %d: got %s, want %s", i, got, c.want)
		}
	}
}

func TestClassifyUnknown(t *testing.T) {
	if got := Classify("blob", "application/octet-stream", []byte("not media at all")); got != ClassUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestIsMediaFile(t *testing.T) {
	if !IsMediaFile("shot1.png", "") || !IsMediaFile("clip1.mp4", "") {
		t.Error("extension match should qualify as media")
	}
	if !IsMediaFile("download", "image/png") {
		t.Error("mime match should qualify as media")
	}
	if IsMediaFile("notes.txt", "text/plain") {
		t.Error("text file should not qualify as media")
	}
}

func TestPrepareVideoIsNeverRelayed(t *testing.T) {
	p := NewPipeline(100*1024*1024, 1600, 85)
	got := p.Prepare(context.Background(), "clip1.mp4", "video/mp4", mp4Bytes())

	if got.Disposition != SkipArchive {
		t.Fatalf("video disposition = %v, want SkipArchive", got.Disposition)
	}
	if got.SkipReason != "video" {
		t.Errorf("reason = %q, want video", got.SkipReason)
	}
	if !got.Replace {
		t.Error("video archive should use replace naming")
	}
	if got.Payload != nil {
		t.Error("video must not carry a relay payload")
	}
}

func TestPrepareOversizedAnimated(t *testing.T) {
	p := NewPipeline(8, 1600, 85) // tiny threshold for the test
	data := gifBytes(t)
	got := p.Prepare(context.Background(), "big.gif", "image/gif", data)

	if got.Disposition != SkipArchive || got.SkipReason != "too-large" {
		t.Fatalf("oversized animation: %+v", got)
	}
	if !got.Replace {
		t.Error("oversized animation archive should use replace naming")
	}
}

func TestPrepareSmallAnimatedRelayedUnmodified(t *testing.T) {
	p := NewPipeline(100*1024*1024, 1600, 85)
	data := gifBytes(t)
	got := p.Prepare(context.Background(), "anim.gif", "image/gif", data)

	if got.Disposition != Relay {
		t.Fatalf("small animation should relay, got %+v", got)
	}
	if !bytes.Equal(got.Payload, data) {
		t.Error("animation payload must be the unmodified original")
	}
	if got.OutName != "anim.gif" {
		t.Errorf("animation keeps its name, got %q", got.OutName)
	}
}

func TestPrepareStillResized(t *testing.T) {
	p := NewPipeline(100*1024*1024, 16, 85)
	data := pngBytes(t, 64, 32)
	got := p.Prepare(context.Background(), "shot1.png", "image/png", data)

	if got.Disposition != Relay {
		t.Fatalf("still should relay, got %+v", got)
	}
	if got.OutName != "shot1.jpg" {
		t.Errorf("recompressed still should be named .jpg, got %q", got.OutName)
	}

	img, err := jpeg.Decode(bytes.NewReader(got.Payload))
	if err != nil {
		t.Fatalf("payload is not jpeg: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 16 || b.Dy() > 16 {
		t.Errorf("payload not resized: %dx%d", b.Dx(), b.Dy())
	}
}

func TestPrepareCorruptStillRelaysOriginal(t *testing.T) {
	p := NewPipeline(100*1024*1024, 1600, 85)
	data := []byte("this is not a png")
	got := p.Prepare(context.Background(), "broken.png", "image/png", data)

	if got.Disposition != Relay {
		t.Fatalf("corrupt still should still relay, got %+v", got)
	}
	if !bytes.Equal(got.Payload, data) {
		t.Error("corrupt still must relay the original bytes")
	}
	if got.OutName != "broken.png" {
		t.Errorf("unconverted file keeps its name, got %q", got.OutName)
	}
}

func TestPrepareConvertibleWithoutUtility(t *testing.T) {
	p := NewPipeline(100*1024*1024, 1600, 85)
	p.converter = &Converter{err: fmt.Errorf("not installed")}

	got := p.Prepare(context.Background(), "photo.heic", "image/heic", []byte{0, 0, 0, 24, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'c'})
	if got.Disposition != SkipKeep {
		t.Fatalf("missing utility should SkipKeep, got %+v", got)
	}
	if got.SkipReason != "converter-unavailable" {
		t.Errorf("reason = %q", got.SkipReason)
	}
}

func TestPrepareUnknownArchivedUnique(t *testing.T) {
	p := NewPipeline(100*1024*1024, 1600, 85)
	got := p.Prepare(context.Background(), "blob", "image/x-strange", []byte("mystery content here"))

	if got.Disposition != SkipArchive {
		t.Fatalf("unknown media should be archived, got %+v", got)
	}
	if got.Replace {
		t.Error("unknown media must archive under a unique name")
	}
	if got.SkipReason == "video" || got.SkipReason == "too-large" {
		t.Errorf("unknown media must not reuse a wire skip reason, got %q", got.SkipReason)
	}
}

func TestJpegName(t *testing.T) {
	if jpegName("shot1.png") != "shot1.jpg" {
		t.Error(jpegName("shot1.png"))
	}
	if jpegName("noext") != "noext.jpg" {
		t.Error(jpegName("noext"))
	}
}
