package imagegen

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDimensions(t *testing.T) {
	w, h := Dimensions(pngBytes(t, 30, 20))
	if w != 30 || h != 20 {
		t.Fatalf("got %dx%d, want 30x20", w, h)
	}

	w, h = Dimensions([]byte("not an image"))
	if w != FallbackDimension || h != FallbackDimension {
		t.Fatalf("undecodable data should fall back to 1024x1024, got %dx%d", w, h)
	}
}

func TestDataURIRoundTrip(t *testing.T) {
	data := pngBytes(t, 2, 2)
	uri := DataURI("", data)
	if !bytes.HasPrefix([]byte(uri), []byte("data:image/png;base64,")) {
		t.Fatalf("unexpected prefix: %.40s", uri)
	}
	got, mt, err := decodeDataURI(uri)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mt != "image/png" || !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: mime=%q equal=%v", mt, bytes.Equal(got, data))
	}

	if _, _, err := decodeDataURI("data:image/png,plain"); err == nil {
		t.Fatal("expected error for non-base64 data uri")
	}
}

func TestSniffMIME(t *testing.T) {
	data := pngBytes(t, 1, 1)
	if got := sniffMIME(data, "application/octet-stream"); got != "image/png" {
		t.Fatalf("sniffed %q", got)
	}
	if got := sniffMIME(data, "image/webp; charset=binary"); got != "image/webp" {
		t.Fatalf("declared type should win, got %q", got)
	}
}
