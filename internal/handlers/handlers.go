package handlers

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/Brownie44l1/food-ai-api/internal/decoder"
	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/Brownie44l1/food-ai-api/internal/model"
	"github.com/Brownie44l1/food-ai-api/internal/nutrition"
	"github.com/Brownie44l1/food-ai-api/internal/recipe"
	"github.com/Brownie44l1/food-ai-api/internal/respond"
	"github.com/Brownie44l1/food-ai-api/internal/upstream"
	"golang.org/x/sync/errgroup"
)

// WelcomeMessage is the body of GET /.
const WelcomeMessage = "Welcome to Food Recognition AI API 🚀"

// DefaultMaxUploadBytes caps the multipart body of POST /predict.
const DefaultMaxUploadBytes = 10 << 20

// Form fields accepted for the uploaded photo, in lookup order.
var uploadFields = []string{"file", "image"}

// Classifier labels a decoded image.
type Classifier interface {
	Classify(ctx context.Context, img image.Image) (model.Prediction, error)
}

// NutritionLookup returns nutrition facts for a label.
type NutritionLookup interface {
	Lookup(ctx context.Context, label string) (nutrition.Facts, error)
}

// RecipeGenerator returns a recipe for a label.
type RecipeGenerator interface {
	Generate(ctx context.Context, label string) (string, error)
}

// PredictionResult is the body of a successful POST /predict.
type PredictionResult struct {
	Prediction string          `json:"prediction"`
	Nutrition  nutrition.Facts `json:"nutrition"`
	Recipe     string          `json:"recipe"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type Handler struct {
	classifier     Classifier
	nutrition      NutritionLookup
	recipes        RecipeGenerator
	decoder        *decoder.Decoder
	nutritionCall  upstream.Options
	recipeCall     upstream.Options
	maxUploadBytes int64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithMaxUploadBytes limits the size of the multipart request body.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithMaxPixels limits the decoded image area.
func WithMaxPixels(n int) Option {
	return func(h *Handler) {
		h.decoder.MaxPixels = n
	}
}

// WithNutritionCall sets the timeout, retry and failure policy of nutrition lookups.
func WithNutritionCall(opts upstream.Options) Option {
	return func(h *Handler) {
		opts.Name = "nutrition"
		h.nutritionCall = opts
	}
}

// WithRecipeCall sets the timeout, retry and failure policy of recipe generation.
func WithRecipeCall(opts upstream.Options) Option {
	return func(h *Handler) {
		opts.Name = "recipe"
		h.recipeCall = opts
	}
}

// NewHandler wires the pipeline. Both enrichment dependencies degrade by
// default: nutrition to empty facts, recipes to recipe.FallbackText.
func NewHandler(classifier Classifier, nutritionLookup NutritionLookup, recipes RecipeGenerator, opts ...Option) *Handler {
	h := &Handler{
		classifier:     classifier,
		nutrition:      nutritionLookup,
		recipes:        recipes,
		decoder:        &decoder.Decoder{},
		nutritionCall:  upstream.Options{Name: "nutrition", Policy: upstream.Degrade, Retries: 1},
		recipeCall:     upstream.Options{Name: "recipe", Policy: upstream.Degrade, Retries: 1},
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"message": WelcomeMessage})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Predict runs decode, classify, then nutrition lookup and recipe generation
// in parallel, and responds with the merged result.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := slog.With("requestID", respond.RequestID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge) {
			respond.Error(w, r, apperrors.NewWithContext(apperrors.ErrCodePayloadTooLarge,
				"uploaded file is too large", map[string]any{"limitBytes": h.maxUploadBytes}))
			return
		}
		respond.Error(w, r, apperrors.Wrap(apperrors.ErrCodeInvalidRequest,
			"failed to parse multipart form", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	var (
		file     io.Reader
		filename string
	)
	for _, field := range uploadFields {
		f, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer f.Close()
		file, filename = f, header.Filename
		logger.Debug("received file",
			"field", field,
			"filename", header.Filename,
			"size", header.Size,
			"contentType", header.Header.Get("Content-Type"),
		)
		break
	}
	if file == nil {
		respond.Error(w, r, apperrors.New(apperrors.ErrCodeInvalidRequest,
			"no image file provided, use 'file' as the form field name"))
		return
	}

	img, err := h.decoder.Decode(file)
	if err != nil {
		logger.Info("rejected upload", "filename", filename, "error", err)
		respond.Error(w, r, err)
		return
	}
	logger.Debug("decoded image",
		"format", img.Format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
	)

	prediction, err := h.classifier.Classify(ctx, img.NRGBA)
	if err != nil {
		logger.Error("prediction failed", "error", err)
		respond.Error(w, r, err)
		return
	}
	if prediction.Label == "" {
		logger.Error("prediction failed", "error", "classifier returned an empty label")
		respond.Error(w, r, apperrors.New(apperrors.ErrCodeInternal, "prediction failed"))
		return
	}
	logger.Info("classified image", "label", prediction.Label, "confidence", prediction.Confidence)

	result, err := h.enrich(ctx, prediction.Label)
	if err != nil {
		logger.Error("enrichment failed", "label", prediction.Label, "error", err)
		respond.Error(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, result)
}

// enrich performs the two independent lookups for label concurrently and
// applies each dependency's failure policy.
func (h *Handler) enrich(ctx context.Context, label string) (PredictionResult, error) {
	result := PredictionResult{Prediction: label}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		facts, err := upstream.Call(gctx, h.nutritionCall, nutrition.Facts{}, func(ctx context.Context) (nutrition.Facts, error) {
			return h.nutrition.Lookup(ctx, label)
		})
		result.Nutrition = facts
		return err
	})
	g.Go(func() error {
		text, err := upstream.Call(gctx, h.recipeCall, recipe.FallbackText, func(ctx context.Context) (string, error) {
			return h.recipes.Generate(ctx, label)
		})
		if text == "" {
			text = recipe.FallbackText
		}
		result.Recipe = text
		return err
	})

	if err := g.Wait(); err != nil {
		return PredictionResult{}, err
	}
	return result, nil
}
