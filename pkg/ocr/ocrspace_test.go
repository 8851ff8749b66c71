package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSpaceClientExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("apikey") != "k" || r.PostForm.Get("OCREngine") != "2" || r.PostForm.Get("language") != "eng" {
			t.Errorf("unexpected form: %v", r.PostForm)
		}
		img := r.PostForm.Get("base64Image")
		want := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
		if img != want {
			t.Errorf("unexpected image payload %q", img)
		}
		if r.PostForm.Get("filetype") != "PNG" {
			t.Errorf("unexpected filetype %q", r.PostForm.Get("filetype"))
		}
		_, _ = w.Write([]byte(`{"ParsedResults":[{"ParsedText":"Photosynthesis\r\n"}],"IsErroredOnProcessing":false}`))
	}))
	defer srv.Close()

	c, err := NewSpaceClient("k", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	text, err := c.ExtractText(context.Background(), "notes.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Photosynthesis" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestSpaceClientErrors(t *testing.T) {
	cases := map[string]struct {
		body    string
		status  int
		wantErr error
		wantMsg string
	}{
		"no results":       {body: `{"ParsedResults":[]}`, wantErr: ErrNoText},
		"blank text":       {body: `{"ParsedResults":[{"ParsedText":"  "}]}`, wantErr: ErrNoText},
		"processing list":  {body: `{"IsErroredOnProcessing":true,"ErrorMessage":["E101","bad file"]}`, wantMsg: "E101; bad file"},
		"processing plain": {body: `{"IsErroredOnProcessing":true,"ErrorMessage":"timed out"}`, wantMsg: "timed out"},
		"http status":      {body: `oops`, status: http.StatusForbidden, wantMsg: "403"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.status != 0 {
					w.WriteHeader(tc.status)
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, _ := NewSpaceClient("k", WithEndpoint(srv.URL))
			_, err := c.ExtractText(context.Background(), "a.jpg", "image/jpeg", []byte("x"))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("expected %q in %v", tc.wantMsg, err)
			}
		})
	}
}

func TestNewSpaceClientRequiresKey(t *testing.T) {
	if _, err := NewSpaceClient(" "); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestSpaceClientSupportsImage(t *testing.T) {
	c, err := NewSpaceClient("key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for _, ct := range []string{"image/png", "image/JPEG", "image/gif", "image/bmp", "image/tiff; x=1"} {
		if !c.SupportsImage(ct) {
			t.Fatalf("%s should be supported", ct)
		}
	}
	if c.SupportsImage("image/heic") {
		t.Fatalf("heic is not read by the service")
	}
}
