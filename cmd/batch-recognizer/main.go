package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/docbatch/internal/models"
	"github.com/Lllllllleong/docbatch/internal/services"
)

var (
	recognizerInstance *services.RecognizerFunction
	once               sync.Once
	initErr            error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleBatchRecognize", handleBatchRecognize)
}

func main() {}

// handleBatchRecognize runs one asynchronous recognition and answers with the
// result envelope.
func handleBatchRecognize(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		recognizerInstance, initErr = services.NewRecognizer(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Recognizer initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RecognizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	if req.SourceURI == "" {
		http.Error(w, "Bad Request: sourceUri is required", http.StatusBadRequest)
		return
	}

	env := recognizerInstance.Process(r.Context(), &req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(services.StatusCode(env))
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("Failed to write response", "error", err, "sourceUri", req.SourceURI)
	}
}
