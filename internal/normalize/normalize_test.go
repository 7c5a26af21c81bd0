package normalize

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestDataURLRoundTrip(t *testing.T) {
	src := DataURL("image/png", []byte{0x89, 0x50, 0x4e, 0x47})
	if !IsDataURL(src) {
		t.Fatalf("IsDataURL(%q) = false, want true", src)
	}
	mime, data, err := ParseDataURL(src)
	if err != nil {
		t.Fatalf("ParseDataURL returned error: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("mime = %q, want %q", mime, "image/png")
	}
	if len(data) != 4 || data[0] != 0x89 {
		t.Fatalf("data = %v, want original bytes", data)
	}
}

func TestParseDataURLRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"not a data uri", "https://cdn.example/img.png"},
		{"missing payload", "data:image/png;base64"},
		{"not base64", "data:image/png,plainbody"},
		{"bad encoding", "data:image/png;base64,@@@"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseDataURL(tc.src); !errors.Is(err, ErrBadPayload) {
				t.Fatalf("ParseDataURL(%q) error = %v, want ErrBadPayload", tc.src, err)
			}
		})
	}
}

func TestImageFromBase64(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("pixels"))

	img, err := ImageFromBase64(b64, "image/webp")
	if err != nil {
		t.Fatalf("ImageFromBase64 returned error: %v", err)
	}
	if img.ID == "" {
		t.Fatal("image ID is empty, want minted identity")
	}
	if img.MimeType != "image/webp" {
		t.Fatalf("MimeType = %q, want %q", img.MimeType, "image/webp")
	}
	if want := "data:image/webp;base64," + b64; img.Src != want {
		t.Fatalf("Src = %q, want %q", img.Src, want)
	}

	img, err = ImageFromBase64(b64, "")
	if err != nil {
		t.Fatalf("ImageFromBase64 without mime returned error: %v", err)
	}
	if img.MimeType != DefaultImageMime {
		t.Fatalf("MimeType = %q, want default %q", img.MimeType, DefaultImageMime)
	}
}

func TestImageFromBase64RejectsBadPayload(t *testing.T) {
	if _, err := ImageFromBase64("", "image/png"); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("empty payload error = %v, want ErrBadPayload", err)
	}
	if _, err := ImageFromBase64("not base64 at all!!", ""); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("undecodable payload error = %v, want ErrBadPayload", err)
	}
}

func TestImageFromURL(t *testing.T) {
	img, err := ImageFromURL("  https://cdn.example/out.png ")
	if err != nil {
		t.Fatalf("ImageFromURL returned error: %v", err)
	}
	if img.Src != "https://cdn.example/out.png" {
		t.Fatalf("Src = %q, want trimmed url", img.Src)
	}
	if _, err := ImageFromURL("   "); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("blank url error = %v, want ErrBadPayload", err)
	}
}

func TestPayloadFromBase64(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("frames"))
	p, err := PayloadFromBase64(b64, "", DefaultVideoMime)
	if err != nil {
		t.Fatalf("PayloadFromBase64 returned error: %v", err)
	}
	if string(p.Data) != "frames" {
		t.Fatalf("Data = %q, want %q", p.Data, "frames")
	}
	if p.MimeType != DefaultVideoMime {
		t.Fatalf("MimeType = %q, want fallback %q", p.MimeType, DefaultVideoMime)
	}
	if p.URL != "" {
		t.Fatalf("URL = %q, want empty for inline payload", p.URL)
	}
}

func TestPayloadFromBinary(t *testing.T) {
	p, err := PayloadFromBinary([]byte("audio"), "audio/wav; charset=binary", DefaultAudioMime)
	if err != nil {
		t.Fatalf("PayloadFromBinary returned error: %v", err)
	}
	if p.MimeType != "audio/wav" {
		t.Fatalf("MimeType = %q, want %q", p.MimeType, "audio/wav")
	}

	p, err = PayloadFromBinary([]byte("audio"), "application/octet-stream", DefaultAudioMime)
	if err != nil {
		t.Fatalf("PayloadFromBinary returned error: %v", err)
	}
	if p.MimeType != DefaultAudioMime {
		t.Fatalf("MimeType = %q, want fallback %q", p.MimeType, DefaultAudioMime)
	}

	if _, err := PayloadFromBinary(nil, "video/mp4", DefaultVideoMime); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("empty body error = %v, want ErrBadPayload", err)
	}
}

func TestPayloadFromURLTrimsAndValidates(t *testing.T) {
	p, err := PayloadFromURL(" https://cdn.example/clip.mp4\n")
	if err != nil {
		t.Fatalf("PayloadFromURL returned error: %v", err)
	}
	if p.URL != "https://cdn.example/clip.mp4" {
		t.Fatalf("URL = %q, want trimmed url", p.URL)
	}
	if strings.Contains(p.URL, " ") {
		t.Fatalf("URL %q still contains whitespace", p.URL)
	}
	if _, err := PayloadFromURL(""); !errors.Is(err, ErrBadPayload) {
		t.Fatalf("empty url error = %v, want ErrBadPayload", err)
	}
}
