package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/hsforensics/api/internal/client"
	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/handler"
	"github.com/hsforensics/api/internal/model"
	"github.com/hsforensics/api/internal/queue"
	"github.com/hsforensics/api/internal/runner"
	"github.com/hsforensics/api/internal/service"
	"github.com/hsforensics/api/internal/worker"
	"github.com/hsforensics/api/pkg/logger"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	queue *queue.Queue
}

// setupApp creates a Fiber app wired like main.go, but on a throwaway
// filesystem store and the builtin segmenter. Redis-backed rate limits and
// the status mirror are left out; they need a live Redis and are not part of
// the pipeline under test.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWithQueue(t, queue.Config{
		Workers:    2,
		MaxDepth:   16,
		JobTimeout: 30 * time.Second,
		Retention:  time.Hour,
	}, nil)
}

// setupAppWithQueue additionally lets a test pick the queue sizing and wrap
// the job processor, e.g. to hold workers busy deterministically.
func setupAppWithQueue(t *testing.T, qcfg queue.Config, wrap func(queue.Processor) queue.Processor) *testApp {
	t.Helper()

	zlog := logger.NewNop()

	store, err := client.NewFSClient(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create fs store: %v", err)
	}

	segCfg := &config.SegmentConfig{
		ConfidenceThreshold: 0.5,
		MaxMasks:            32,
		MaxDimension:        2048,
		MaxPixels:           1 << 24,
		Presets: map[string]model.PresetParams{
			"default": {ConfidenceThreshold: 0.5, MaxMasks: 32, MaxDimension: 2048},
			"fine":    {ConfidenceThreshold: 0.8, MaxMasks: 64, MaxDimension: 4096},
			"fast":    {ConfidenceThreshold: 0.5, MaxMasks: 16, MaxDimension: 1024},
		},
	}
	samCfg := &config.SAMConfig{DefaultPreset: "default"}

	validate := validator.New()
	imageService := service.NewImageService(store, zlog)
	maskService := service.NewMaskService(store, zlog)
	segRunner := runner.NewBuiltinRunner(runner.LoadHandle(segCfg), zlog)
	segWorker := worker.NewSegmentWorker(imageService, maskService, segRunner, zlog)

	var proc queue.Processor = segWorker
	if wrap != nil {
		proc = wrap(segWorker)
	}
	jobQueue := queue.New(qcfg, proc, zlog)
	jobQueue.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobQueue.Stop(ctx)
	})

	imageHandler := handler.NewImageHandler(imageService, maskService, validate)
	jobHandler := handler.NewJobHandler(jobQueue, imageService, segCfg, samCfg, validate)
	modelHandler := handler.NewModelHandler(segRunner, segCfg, samCfg)

	app := fiber.New(fiber.Config{
		BodyLimit: 25 * 1024 * 1024,
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		stats := jobQueue.Stats()
		status := "ok"
		if stats.Running >= stats.Workers && stats.Pending >= stats.Capacity {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status": status,
			"queue":  stats,
		})
	})

	api := app.Group("/api")

	images := api.Group("/images")
	images.Post("/", imageHandler.Upload)
	images.Get("/", imageHandler.List)
	images.Get("/:imageId", imageHandler.Get)
	images.Delete("/:imageId", imageHandler.Delete)
	images.Get("/:imageId/masks", imageHandler.Masks)

	jobs := api.Group("/jobs")
	jobs.Post("/", jobHandler.Create)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	api.Get("/models", modelHandler.List)

	return &testApp{app: app, queue: jobQueue}
}

// testImagePNG renders a small solid-color PNG.
func testImagePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// createImageUploadRequest builds a multipart/form-data upload.
func createImageUploadRequest(t *testing.T, data []byte, contentType string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="test.png"`)
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/images", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// uploadImage uploads a PNG and returns its id.
func uploadImage(t *testing.T, ta *testApp, data []byte) string {
	t.Helper()
	resp, err := ta.app.Test(createImageUploadRequest(t, data, "image/png"), -1)
	if err != nil {
		t.Fatalf("upload request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	result := parseJSON(t, resp)
	id, _ := result["id"].(string)
	if len(id) != 64 {
		t.Fatalf("expected sha256 hex id, got %q", id)
	}
	return id
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// pollJobUntilTerminal polls job status until a terminal state or timeout.
func pollJobUntilTerminal(t *testing.T, ta *testApp, jobID string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := doRequest(ta.app, http.MethodGet, "/api/jobs/"+jobID, "")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
		result := parseJSON(t, resp)

		switch result["status"] {
		case "succeeded", "failed", "canceled":
			return result
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}
