package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventParseAPI/internal/ai"
	"eventParseAPI/internal/config"
	"eventParseAPI/internal/types/event"
	"eventParseAPI/services"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxImages:     10,
		MaxImageBytes: 8 << 20,
		MaxTextChars:  8000,
	}
}

func newTestParseHandler(cfg *config.Config, mock *services.MockCompletionProvider) *ParseHandler {
	logger := zerolog.Nop()
	svc := services.NewExtractionService(&logger)
	if mock != nil {
		svc.SetCompletionProvider(mock)
	}
	return NewParseHandler(svc, cfg, &logger)
}

type testImage struct {
	name string
	mime string
	data []byte
}

func newMultipartRequest(t *testing.T, text string, images ...testImage) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	if text != "" {
		require.NoError(t, mw.WriteField("text", text))
	}

	for _, img := range images {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, img.name))
		header.Set("Content-Type", img.mime)

		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(img.data)
		require.NoError(t, err)
	}

	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/parse", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

const singleEventJSON = `{"events":[{
	"date": "2026-03-14",
	"start_date": null,
	"end_date": null,
	"days_of_week": null,
	"title": "Dentist",
	"details": "",
	"all_day": false,
	"start_time": "09:00",
	"end_time": "09:30"
}]}`

func TestHandleParseTextOnly(t *testing.T) {
	mock := &services.MockCompletionProvider{Response: singleEventJSON}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "Dentist on March 14 at 9")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp event.ParseResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "Dentist", resp.Events[0].Title)

	assert.Equal(t, 1, mock.Calls)
	assert.Equal(t, "Dentist on March 14 at 9", mock.LastText)
}

func TestHandleParseWithImages(t *testing.T) {
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(testConfig(), mock)

	img := testImage{name: "plan.png", mime: "image/png", data: []byte{0x89, 0x50, 0x4e, 0x47}}
	req := newMultipartRequest(t, "school schedule", img)
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, mock.LastImages, 1)
	assert.Equal(t, "image/png", mock.LastImages[0].MIME)
	assert.Equal(t, img.data, mock.LastImages[0].Data)
}

func TestHandleParseEmptyEventsSerializeAsEmptyArray(t *testing.T) {
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "nothing here")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"events":[]}`, rr.Body.String())
}

func TestHandleParseRequiresTextOrImages(t *testing.T) {
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "No text or images provided")
	// The completion API must not be called at all.
	assert.Zero(t, mock.Calls)
}

func TestHandleParseWhitespaceTextCountsAsMissing(t *testing.T) {
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "   \n\t  ")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, mock.Calls)
}

func TestHandleParseRejectsNonMultipartBody(t *testing.T) {
	handler := newTestParseHandler(testConfig(), &services.MockCompletionProvider{})

	req := httptest.NewRequest(http.MethodPost, "/api/parse", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid multipart form")
}

func TestHandleParseWithoutProviderConfigured(t *testing.T) {
	handler := newTestParseHandler(testConfig(), nil)

	req := newMultipartRequest(t, "Dinner on Friday")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "AI credentials are not configured")
}

func TestHandleParseUpstreamError(t *testing.T) {
	mock := &services.MockCompletionProvider{
		Err: &ai.UpstreamError{StatusCode: 502, Body: "bad gateway"},
	}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "Dinner on Friday")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Upstream completion request failed", body["error"])
	assert.Equal(t, float64(502), body["upstream_status"])
	assert.Equal(t, "bad gateway", body["upstream_body"])
}

func TestHandleParseNoOutputText(t *testing.T) {
	mock := &services.MockCompletionProvider{
		Err: &ai.NoOutputTextError{RawResponse: `{"id":"chatcmpl-123","choices":[]}`},
	}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "Dinner on Friday")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "no output text")
	assert.Contains(t, rr.Body.String(), "chatcmpl-123")
}

func TestHandleParseInvalidModelJSON(t *testing.T) {
	mock := &services.MockCompletionProvider{Response: "I could not find any events, sorry!"}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "Dinner on Friday")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Model returned invalid JSON", body["error"])
	assert.Equal(t, "I could not find any events, sorry!", body["raw_text"])
}

func TestHandleParseTextLengthCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTextChars = 10
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(cfg, mock)

	req := newMultipartRequest(t, "this text is longer than ten characters")
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "character limit")
	assert.Zero(t, mock.Calls)
}

func TestHandleParseTextCapCountsRunes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTextChars = 5
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(cfg, mock)

	// Five runes across seven bytes still fit a five character cap.
	rr := httptest.NewRecorder()
	handler.HandleParse(rr, newMultipartRequest(t, "héllö"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, mock.Calls)

	// A sixth rune goes over.
	rr = httptest.NewRecorder()
	handler.HandleParse(rr, newMultipartRequest(t, "héllös"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 1, mock.Calls)
}

func TestHandleParseIgnoresImagesPastTheCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxImages = 2
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(cfg, mock)

	req := newMultipartRequest(t, "",
		testImage{name: "a.png", mime: "image/png", data: []byte{1}},
		testImage{name: "b.png", mime: "image/png", data: []byte{2}},
		testImage{name: "c.png", mime: "image/png", data: []byte{3}},
	)
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, mock.LastImages, 2)
}

func TestHandleParseOversizedImage(t *testing.T) {
	cfg := testConfig()
	cfg.MaxImageBytes = 4
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(cfg, mock)

	req := newMultipartRequest(t, "",
		testImage{name: "big.png", mime: "image/png", data: []byte{1, 2, 3, 4, 5}},
	)
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "byte limit")
	assert.Zero(t, mock.Calls)
}

func TestHandleParseRejectsNonImageUpload(t *testing.T) {
	mock := &services.MockCompletionProvider{Response: `{"events":[]}`}
	handler := newTestParseHandler(testConfig(), mock)

	req := newMultipartRequest(t, "",
		testImage{name: "notes.txt", mime: "text/plain", data: []byte("hello world")},
	)
	rr := httptest.NewRecorder()

	handler.HandleParse(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "not an image")
	assert.Zero(t, mock.Calls)
}
