package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ctscribe/internal/services"
)

type fakePutter struct {
	keys   []string
	types  []string
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.types = append(f.types, aws.ToString(in.ContentType))
	f.bodies = append(f.bodies, string(data))
	return &s3.PutObjectOutput{}, nil
}

func writeCaption(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestUploadPutsFilesUnderPrefix(t *testing.T) {
	fake := &fakePutter{}
	u := newUploader(fake, "lectures", "/captions/", nil)
	srt := writeCaption(t, "talk.srt", "1\n")
	vtt := writeCaption(t, "talk.vtt", "WEBVTT\n")

	uris, err := u.Upload(context.Background(), "video-9", srt, vtt)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(uris) != 2 || uris[0] != "s3://lectures/captions/video-9/talk.srt" {
		t.Fatalf("unexpected uris %v", uris)
	}
	if fake.keys[1] != "captions/video-9/talk.vtt" {
		t.Fatalf("unexpected key %q", fake.keys[1])
	}
	if fake.types[1] != "text/vtt; charset=utf-8" {
		t.Fatalf("unexpected content type %q", fake.types[1])
	}
	if fake.bodies[1] != "WEBVTT\n" {
		t.Fatalf("unexpected body %q", fake.bodies[1])
	}
}

func TestUploadWithoutPrefix(t *testing.T) {
	u := newUploader(&fakePutter{}, "b", "", nil)
	if got := u.Key("v1", "/out/a.srt"); got != "v1/a.srt" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestUploadFailureIsTransient(t *testing.T) {
	u := newUploader(&fakePutter{err: errors.New("503")}, "b", "p", nil)
	_, err := u.Upload(context.Background(), "v1", writeCaption(t, "a.srt", "x"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestUploadMissingFile(t *testing.T) {
	u := newUploader(&fakePutter{}, "b", "p", nil)
	if _, err := u.Upload(context.Background(), "v1", filepath.Join(t.TempDir(), "nope.srt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
