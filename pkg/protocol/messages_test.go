package protocol

import (
	"errors"
	"testing"
)

func TestParseGetRequest(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		want    GetRequest
		wantErr bool
	}{
		{"valid", GetRequest{"report.txt", "NORMAL"}.Frame(), GetRequest{"report.txt", "NORMAL"}, false},
		{"wrong method", Frame{Method: MethodSend, Payload: "a HIGH"}, GetRequest{}, true},
		{"one field", Frame{Method: MethodGet, Payload: "a"}, GetRequest{}, true},
		{"three fields", Frame{Method: MethodGet, Payload: "a HIGH extra"}, GetRequest{}, true},
		{"empty priority", Frame{Method: MethodGet, Payload: "a "}, GetRequest{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGetRequest(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseGetRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !IsFramingError(err) || !errors.Is(err, ErrMalformedPayload) {
					t.Fatalf("expected framing error wrapping ErrMalformedPayload, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	ok := ParseStatus(OKFrame("report.txt", 2500))
	if ok.Kind != StatusOK || ok.Filename != "report.txt" || ok.Size != 2500 {
		t.Fatalf("unexpected OK status: %+v", ok)
	}
	end := ParseStatus(EndFrame("report.txt"))
	if end.Kind != StatusEnd || end.Filename != "report.txt" {
		t.Fatalf("unexpected END status: %+v", end)
	}
	text := ParseStatus(ListingFrame("report.txt 2500\nother.bin 10"))
	if text.Kind != "" || text.Text != "report.txt 2500\nother.bin 10" {
		t.Fatalf("unexpected listing status: %+v", text)
	}
	bad := ParseStatus(Frame{Method: MethodSend, Payload: "OK a notanumber"})
	if bad.Kind != "" {
		t.Fatalf("expected free text for bad size, got %+v", bad)
	}
}

func TestParseChunkHeader(t *testing.T) {
	h, err := ParseChunkHeader("report.txt 452")
	if err != nil {
		t.Fatalf("ParseChunkHeader error: %v", err)
	}
	if h.Filename != "report.txt" || h.DataSize != 452 {
		t.Fatalf("unexpected header: %+v", h)
	}
	for _, payload := range []string{"", "report.txt", "report.txt -1", "report.txt x", " 5"} {
		if _, err := ParseChunkHeader(payload); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("payload %q: expected ErrMalformedPayload, got %v", payload, err)
		}
	}
}

func TestDataRejectsOversizedDataSize(t *testing.T) {
	f := Frame{Method: MethodSendFile, Payload: "a 9", Chunk: make([]byte, 8)}
	if _, err := f.Data(); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if _, err := EndFrame("a").Data(); err == nil {
		t.Fatal("expected error for non-chunk frame")
	}
}
