package xtts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Olbrasoft/TextToSpeech/internal/core"
)

// Test constants.
const (
	testReferenceFileName       = "reference.wav"
	testReferenceAudioBytes     = "RIFF....WAVEfake-reference-audio"
	testSynthesisText           = "Dobrý den, jak se máte?"
	testErrMsgBadAudio          = "unsupported reference audio format"
	testErrCodeBadAudio         = "BAD_AUDIO"
	testErrExpectedPostRequest  = "Expected POST request, got %s"
	testErrExpectedPath         = "Expected %s path, got %s"
	testErrExpectedRequestID    = "Expected a request ID header"
	testErrUnexpectedError      = "Unexpected error: %v"
	testErrExpectedError        = "Expected an error"
	testErrExpectedErrorIs      = "Expected %v, got %v"
	testErrExpectedErrDetail    = "Expected error detail in message, got: %v"
	testErrExpectedSampleCount  = "Expected %d samples, got %d"
	testErrExpectedSampleValue  = "Expected sample %d to be %f, got %f"
	testErrExpectedLatentValues = "Latent values were not preserved: %+v"
)

// writeReferenceFile drops a fake reference audio file into a temp dir.
func writeReferenceFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), testReferenceFileName)

	err := os.WriteFile(path, []byte(testReferenceAudioBytes), 0o600)
	if err != nil {
		t.Fatalf("Failed to write reference file: %v", err)
	}

	return path
}

// testLatents returns latents with exactly representable float values.
func testLatents() *core.Latents {
	return &core.Latents{
		GPTCondLatent:    [][]float32{{0.5, -0.25}, {1.5, 2.0}},
		SpeakerEmbedding: []float32{0.125, -0.5},
	}
}

// encodeSampleStream renders float32 samples as the engine's wire format.
func encodeSampleStream(samples []float32) []byte {
	data := make([]byte, 0, len(samples)*bytesPerSample)
	for _, sample := range samples {
		var chunk [bytesPerSample]byte

		binary.LittleEndian.PutUint32(chunk[:], math.Float32bits(sample))
		data = append(data, chunk[:]...)
	}

	return data
}

func TestClient_ComputeLatents_Success(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, request *http.Request) {
				if request.Method != http.MethodPost {
					t.Errorf(testErrExpectedPostRequest, request.Method)
				}

				if request.URL.Path != apiConditioning {
					t.Errorf(
						testErrExpectedPath,
						apiConditioning,
						request.URL.Path,
					)
				}

				if request.Header.Get(headerRequestID) == "" {
					t.Error(testErrExpectedRequestID)
				}

				file, header, err := request.FormFile(formFieldReferenceAudio)
				if err != nil {
					t.Errorf("Failed to read form file: %v", err)

					return
				}

				defer func() {
					_ = file.Close()
				}()

				if header.Filename != testReferenceFileName {
					t.Errorf(
						"Expected filename %s, got %s",
						testReferenceFileName,
						header.Filename,
					)
				}

				uploaded, _ := io.ReadAll(file)
				if string(uploaded) != testReferenceAudioBytes {
					t.Error("Reference audio bytes were not preserved")
				}

				responseWriter.Header().Set(headerContentType, contentTypeJSON)
				responseWriter.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(responseWriter).Encode(testLatents())
			},
		),
	)
	defer server.Close()

	client := NewClient(server.URL)

	latents, err := client.ComputeLatents(context.Background(), writeReferenceFile(t))
	if err != nil {
		t.Fatalf(testErrUnexpectedError, err)
	}

	want := testLatents()
	if len(latents.GPTCondLatent) != len(want.GPTCondLatent) ||
		latents.GPTCondLatent[0][0] != want.GPTCondLatent[0][0] ||
		latents.GPTCondLatent[1][1] != want.GPTCondLatent[1][1] ||
		latents.SpeakerEmbedding[1] != want.SpeakerEmbedding[1] {
		t.Errorf(testErrExpectedLatentValues, latents)
	}
}

func TestClient_ComputeLatents_MissingFile(t *testing.T) {
	client := NewClient("http://127.0.0.1:0")

	_, err := client.ComputeLatents(
		context.Background(),
		filepath.Join(t.TempDir(), "missing.wav"),
	)
	if err == nil {
		t.Fatal(testErrExpectedError)
	}
}

func TestClient_ComputeLatents_EngineError(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerContentType, contentTypeJSON)
			w.WriteHeader(http.StatusUnprocessableEntity)

			errorResp := ErrorResponse{
				Detail:    testErrMsgBadAudio,
				ErrorCode: testErrCodeBadAudio,
			}
			_ = json.NewEncoder(w).Encode(errorResp)
		}),
	)
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.ComputeLatents(context.Background(), writeReferenceFile(t))
	if err == nil {
		t.Fatal(testErrExpectedError)
	}

	if !strings.Contains(err.Error(), testErrMsgBadAudio) ||
		!strings.Contains(err.Error(), testErrCodeBadAudio) {
		t.Errorf(testErrExpectedErrDetail, err)
	}
}

func TestClient_ComputeLatents_EmptyLatents(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerContentType, contentTypeJSON)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		}),
	)
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.ComputeLatents(context.Background(), writeReferenceFile(t))
	if !errors.Is(err, ErrEmptyLatents) {
		t.Errorf(testErrExpectedErrorIs, ErrEmptyLatents, err)
	}
}

func TestClient_Synthesize_Success(t *testing.T) {
	wantSamples := []float32{0.5, -0.25, 1.0, -1.0}

	params := core.SynthesisParams{
		Text:              testSynthesisText,
		Language:          "cs",
		Temperature:       0.75,
		RepetitionPenalty: 3.0,
		TopK:              50,
		TopP:              0.85,
		Seed:              42,
	}

	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, request *http.Request) {
				if request.Method != http.MethodPost {
					t.Errorf(testErrExpectedPostRequest, request.Method)
				}

				if request.URL.Path != apiSynthesize {
					t.Errorf(
						testErrExpectedPath,
						apiSynthesize,
						request.URL.Path,
					)
				}

				if request.Header.Get(headerAccept) != contentTypeOctetStream {
					t.Error("Expected octet-stream accept header")
				}

				var req SynthesisRequest

				err := json.NewDecoder(request.Body).Decode(&req)
				if err != nil {
					t.Errorf("Failed to decode request: %v", err)

					return
				}

				if req.Text != params.Text ||
					req.Language != params.Language ||
					req.Temperature != params.Temperature ||
					req.RepetitionPenalty != params.RepetitionPenalty ||
					req.TopK != params.TopK ||
					req.TopP != params.TopP ||
					req.Seed != params.Seed {
					t.Errorf("Sampling parameters were not preserved: %+v", req)
				}

				if len(req.GPTCondLatent) == 0 || len(req.SpeakerEmbedding) == 0 {
					t.Error("Expected latents in the synthesis request")
				}

				responseWriter.Header().
					Set(headerContentType, contentTypeOctetStream)
				responseWriter.WriteHeader(http.StatusOK)
				_, _ = responseWriter.Write(encodeSampleStream(wantSamples))
			},
		),
	)
	defer server.Close()

	client := NewClient(server.URL)

	samples, err := client.Synthesize(context.Background(), testLatents(), params)
	if err != nil {
		t.Fatalf(testErrUnexpectedError, err)
	}

	if len(samples) != len(wantSamples) {
		t.Fatalf(testErrExpectedSampleCount, len(wantSamples), len(samples))
	}

	for i, want := range wantSamples {
		if samples[i] != want {
			t.Errorf(testErrExpectedSampleValue, i, want, samples[i])
		}
	}
}

func TestClient_Synthesize_EngineError(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerContentType, contentTypeJSON)
			w.WriteHeader(http.StatusInternalServerError)

			errorResp := ErrorResponse{
				Detail:    "synthesis failed",
				ErrorCode: "SYNTHESIS_FAILED",
			}
			_ = json.NewEncoder(w).Encode(errorResp)
		}),
	)
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Synthesize(
		context.Background(),
		testLatents(),
		core.DefaultSynthesisParams(testSynthesisText),
	)
	if err == nil {
		t.Fatal(testErrExpectedError)
	}

	if !strings.Contains(err.Error(), "synthesis failed") {
		t.Errorf(testErrExpectedErrDetail, err)
	}
}

func TestClient_Synthesize_WrongContentType(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerContentType, "text/plain")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("not samples"))
		}),
	)
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Synthesize(
		context.Background(),
		testLatents(),
		core.DefaultSynthesisParams(testSynthesisText),
	)
	if err == nil {
		t.Fatal(testErrExpectedError)
	}

	if !strings.Contains(err.Error(), "unexpected content type") {
		t.Errorf(testErrExpectedErrDetail, err)
	}
}

func TestClient_Synthesize_EmptyStream(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerContentType, contentTypeOctetStream)
			w.WriteHeader(http.StatusOK)
		}),
	)
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Synthesize(
		context.Background(),
		testLatents(),
		core.DefaultSynthesisParams(testSynthesisText),
	)
	if !errors.Is(err, ErrEmptySamples) {
		t.Errorf(testErrExpectedErrorIs, ErrEmptySamples, err)
	}
}

func TestClient_Synthesize_TruncatedStream(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerContentType, contentTypeOctetStream)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte{0x00, 0x00, 0x80, 0x3f, 0x00})
		}),
	)
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Synthesize(
		context.Background(),
		testLatents(),
		core.DefaultSynthesisParams(testSynthesisText),
	)
	if !errors.Is(err, ErrTruncatedSamples) {
		t.Errorf(testErrExpectedErrorIs, ErrTruncatedSamples, err)
	}
}

func TestClient_HealthCheck_Success(t *testing.T) {
	server := httptest.NewServer(
		http.HandlerFunc(
			func(responseWriter http.ResponseWriter, request *http.Request) {
				if request.URL.Path != apiHealth {
					t.Errorf(
						testErrExpectedPath,
						apiHealth,
						request.URL.Path,
					)
				}

				if request.Method != http.MethodGet {
					t.Errorf("Expected GET request, got %s", request.Method)
				}

				responseWriter.WriteHeader(http.StatusOK)
				_ = json.NewEncoder(responseWriter).Encode(map[string]any{
					"status":       "healthy",
					"model_loaded": true,
				})
			},
		),
	)
	defer server.Close()

	client := NewClient(server.URL)

	err := client.HealthCheck(context.Background())
	if err != nil {
		t.Errorf(testErrUnexpectedError, err)
	}
}

func TestClient_HealthCheck_EngineDown(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	err := client.HealthCheck(context.Background())
	if err == nil {
		t.Error(testErrExpectedError)
	}
}
