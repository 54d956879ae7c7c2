package kafka

import (
	"testing"
	"time"
)

type published struct {
	BuildID string    `json:"build_id"`
	BuiltAt time.Time `json:"built_at"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[published]([]byte(`{"build_id":"b7","built_at":"2026-01-02T03:04:05Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.BuildID != "b7" || got.BuiltAt.Year() != 2026 {
		t.Errorf("got %+v", got)
	}
	if _, err := DecodeJSON[published]([]byte(`{`)); err == nil {
		t.Error("malformed payload accepted")
	}
}
