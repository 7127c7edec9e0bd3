package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidatePushItemPayloadAcceptsFullPayload(t *testing.T) {
	raw := json.RawMessage(`{
		"guid": "article-123",
		"title": "A fresh article",
		"url": "https://example.com/articles/123",
		"author": "Jane Doe",
		"content": "Full body text.",
		"summary": "Short summary.",
		"published_at": "2026-08-20T12:00:00Z",
		"image_url": "https://example.com/cover.png",
		"media_urls": ["https://example.com/clip.mp4"],
		"language": "en",
		"extra": {"origin": "partner-api"}
	}`)

	item, err := ValidatePushItemPayload(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.GUID != "article-123" || item.Title != "A fresh article" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.URL == nil || *item.URL != "https://example.com/articles/123" {
		t.Fatalf("unexpected url: %v", item.URL)
	}
	if item.Language == nil || *item.Language != "en" {
		t.Fatalf("unexpected language: %v", item.Language)
	}
	if item.Extra["origin"] != "partner-api" {
		t.Fatalf("unexpected extra: %v", item.Extra)
	}
}

func TestValidatePushItemPayloadMinimal(t *testing.T) {
	item, err := ValidatePushItemPayload(json.RawMessage(`{"guid":"g","title":"t"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.URL != nil || item.PublishedAt != nil {
		t.Fatalf("optional fields should stay nil: %+v", item)
	}
}

func TestValidatePushItemPayloadRejections(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"empty payload", ``, "payload is empty"},
		{"not json", `{"guid":`, "decode payload"},
		{"trailing content", `{"guid":"g","title":"t"} {}`, "trailing content"},
		{"missing guid", `{"title":"t"}`, "schema validation failed"},
		{"missing title", `{"guid":"g"}`, "schema validation failed"},
		{"unknown field", `{"guid":"g","title":"t","rating":5}`, "schema validation failed"},
		{"wrong type", `{"guid":1,"title":"t"}`, "schema validation failed"},
		{"bad language", `{"guid":"g","title":"t","language":"english"}`, "schema validation failed"},
		{"blank guid", `{"guid":"  ","title":"t"}`, "guid must not be empty"},
		{"bad url", `{"guid":"g","title":"t","url":"not a uri"}`, "url"},
		{"bad media url", `{"guid":"g","title":"t","media_urls":["::"]}`, "media_urls"},
		{"bad published_at", `{"guid":"g","title":"t","published_at":"2026-99-01T00:00:00Z"}`, "published_at"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidatePushItemPayload(json.RawMessage(tc.payload))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}
