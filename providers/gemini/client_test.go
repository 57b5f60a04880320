package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "test-key")
}

func TestTransformImageToText(t *testing.T) {
	var gotPath string
	var gotReq generateRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": "a red barn at dusk"}},
				},
			}},
		})
	})

	input := models.Artifact{ItemID: "item-a", Modality: models.ModalityImage}
	out, err := c.Transform(context.Background(), input, []byte{0x89, 0x50}, models.ModalityText, "describe this image")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if string(out) != "a red barn at dusk" {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(gotPath, c.TextModel+":generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	parts := gotReq.Contents[0].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[1].Text != "describe this image" {
		t.Errorf("request parts = %+v", parts)
	}
}

func TestTransformTextToImage(t *testing.T) {
	image := []byte{0x89, 0x50, 0x4e, 0x47}
	var gotPath string
	var gotReq predictRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"predictions": []map[string]string{{
				"bytesBase64Encoded": base64.StdEncoding.EncodeToString(image),
				"mimeType":           "image/png",
			}},
		})
	})

	input := models.Artifact{ItemID: "item-a", Modality: models.ModalityText}
	out, err := c.Transform(context.Background(), input, []byte("a red barn at dusk"), models.ModalityImage, "render faithfully")
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if string(out) != string(image) {
		t.Errorf("output = %x, want %x", out, image)
	}
	if !strings.Contains(gotPath, c.ImageModel+":predict") {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotReq.Instances[0].Prompt, "a red barn at dusk") {
		t.Errorf("prompt = %q", gotReq.Instances[0].Prompt)
	}
}

func TestTransformClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		kind   retrypolicy.ErrorKind
	}{
		{http.StatusTooManyRequests, retrypolicy.KindTransient},
		{http.StatusServiceUnavailable, retrypolicy.KindTransient},
		{http.StatusInternalServerError, retrypolicy.KindTransient},
		{http.StatusBadRequest, retrypolicy.KindPermanent},
		{http.StatusForbidden, retrypolicy.KindPermanent},
	}

	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":{"message":"nope"}}`))
		})

		input := models.Artifact{Modality: models.ModalityImage}
		_, err := c.Transform(context.Background(), input, []byte{0x89}, models.ModalityText, "describe")
		var capErr *retrypolicy.CapabilityError
		if !errors.As(err, &capErr) {
			t.Fatalf("status %d: err = %v, want CapabilityError", tc.status, err)
		}
		if capErr.Kind != tc.kind {
			t.Errorf("status %d classified %q, want %q", tc.status, capErr.Kind, tc.kind)
		}
		if !strings.Contains(err.Error(), "nope") {
			t.Errorf("status %d error lost API message: %v", tc.status, err)
		}
	}
}

func TestTransformSafetyBlockIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"promptFeedback": map[string]string{"blockReason": "SAFETY"},
		})
	})

	input := models.Artifact{Modality: models.ModalityImage}
	_, err := c.Transform(context.Background(), input, []byte{0x89}, models.ModalityText, "describe")
	var capErr *retrypolicy.CapabilityError
	if !errors.As(err, &capErr) || capErr.Kind != retrypolicy.KindPermanent {
		t.Fatalf("err = %v, want permanent capability error", err)
	}
}
