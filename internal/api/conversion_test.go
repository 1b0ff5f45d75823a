package api

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	apperrors "github.com/mp3forge/backend/internal/errors"
	"github.com/mp3forge/backend/internal/files"
	"github.com/mp3forge/backend/internal/job"
)

func formRequest(t *testing.T, values url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestParseJobConfig(t *testing.T) {
	tests := []struct {
		name    string
		form    url.Values
		want    job.Config
		wantErr bool
	}{
		{
			name: "empty form uses defaults",
			form: url.Values{},
			want: job.DefaultConfig(),
		},
		{
			name: "custom bitrate",
			form: url.Values{"bitrate": {"320k"}},
			want: job.Config{Bitrate: "320k", PreserveMetadata: true, FailurePolicy: job.PolicyContinue},
		},
		{
			name:    "unsupported bitrate",
			form:    url.Values{"bitrate": {"64k"}},
			wantErr: true,
		},
		{
			name: "custom sample rate",
			form: url.Values{"sample_rate": {"44100"}},
			want: job.Config{Bitrate: "192k", SampleRate: 44100, PreserveMetadata: true, FailurePolicy: job.PolicyContinue},
		},
		{
			name:    "unsupported sample rate",
			form:    url.Values{"sample_rate": {"8000"}},
			wantErr: true,
		},
		{
			name:    "non-numeric sample rate",
			form:    url.Values{"sample_rate": {"high"}},
			wantErr: true,
		},
		{
			name: "metadata preservation disabled",
			form: url.Values{"preserve_metadata": {"false"}},
			want: job.Config{Bitrate: "192k", PreserveMetadata: false, FailurePolicy: job.PolicyContinue},
		},
		{
			name:    "invalid preserve metadata",
			form:    url.Values{"preserve_metadata": {"yes please"}},
			wantErr: true,
		},
		{
			name: "fail fast policy",
			form: url.Values{"failure_policy": {"fail_fast"}},
			want: job.Config{Bitrate: "192k", PreserveMetadata: true, FailurePolicy: job.PolicyFailFast},
		},
		{
			name:    "unknown policy",
			form:    url.Values{"failure_policy": {"explode"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseJobConfig(formRequest(t, tt.form))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var appErr *apperrors.AppError
				if !errors.As(err, &appErr) {
					t.Errorf("expected AppError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, cfg)
			}
		})
	}
}

func multipartRequest(t *testing.T, filenames []string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, name := range filenames {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write([]byte("not a real video"))
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadValidation(t *testing.T) {
	fm, err := files.NewManager(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	h := NewConversionHandlers(nil, nil, fm, 2)

	t.Run("no files", func(t *testing.T) {
		req := multipartRequest(t, nil)
		w := httptest.NewRecorder()

		err := h.Upload(w, req)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("unsupported extension rejected before any write", func(t *testing.T) {
		req := multipartRequest(t, []string{"clip.mp4", "notes.txt"})
		w := httptest.NewRecorder()

		err := h.Upload(w, req)
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			t.Fatalf("expected AppError, got %T", err)
		}
		if appErr.HTTPStatus != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, appErr.HTTPStatus)
		}
	})

	t.Run("too many files", func(t *testing.T) {
		req := multipartRequest(t, []string{"a.mp4", "b.mp4", "c.mp4"})
		w := httptest.NewRecorder()

		err := h.Upload(w, req)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}
