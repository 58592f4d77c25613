package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"npud/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.ResourceStatus
	Submit(ctx context.Context, req types.InferRequest) (types.InferResponse, error)
	Load(ctx context.Context, modelID string) (types.LoadResponse, error)
	Unload(ctx context.Context, modelID string) error
	ModelMetrics(modelID string) (types.ModelMetrics, error)
	MemoryStatus(ctx context.Context) (types.MemoryResponse, error)
	Cleanup(ctx context.Context) (types.CleanupResponse, error)
	DeviceStatus(ctx context.Context) (types.DeviceStatus, error)
	Capabilities() types.Capabilities
	RefreshCapabilities(ctx context.Context) types.Capabilities
	Settings() types.DeviceSettings
	Configure(cfg types.DeviceConfig) (types.DeviceSettings, error)
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(accessLog)
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", handleModels(svc))
	r.Post("/models/{id}/load", handleLoad(svc))
	r.Delete("/models/{id}", handleUnload(svc))
	r.Get("/models/{id}/metrics", handleModelMetrics(svc))
	r.Post("/infer", handleInfer(svc))
	r.Get("/status", handleStatus(svc))
	r.Get("/memory", handleMemory(svc))
	r.Post("/memory/cleanup", handleCleanup(svc))
	r.Get("/device", handleDevice(svc))
	r.Get("/capabilities", handleCapabilities(svc))
	r.Post("/capabilities/refresh", handleRefresh(svc))
	r.Get("/config", handleSettings(svc))
	r.Put("/config", handleConfigure(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Err(err).Msg("encode response")
	}
}

// decodeJSON enforces the content type and body limit. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", "")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body", "validation_failed")
		return false
	}
	return true
}

// fail writes err unless the client or server already gave up.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if aborted(r.Context()) {
		return
	}
	writeError(w, err)
}

// handleModels godoc
// @Summary      List models
// @Description  Models discovered in the models directory.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func handleModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	}
}

// handleLoad godoc
// @Summary      Load a model
// @Description  Compiles and loads the model if it is not resident.
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "Model ID"
// @Success      200  {object}  types.LoadResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      502  {object}  types.ErrorResponse
// @Router       /models/{id}/load [post]
func handleLoad(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := workContext(r.Context())
		defer cancel()
		resp, err := svc.Load(ctx, chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleUnload godoc
// @Summary      Unload a model
// @Description  Drains in-flight requests and frees the model. Unloading a model that is not resident succeeds.
// @Tags         models
// @Param        id   path  string  true  "Model ID"
// @Success      204
// @Failure      404  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Router       /models/{id} [delete]
func handleUnload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := workContext(r.Context())
		defer cancel()
		if err := svc.Unload(ctx, chi.URLParam(r, "id")); err != nil {
			fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleModelMetrics godoc
// @Summary      Model performance
// @Tags         models
// @Produce      json
// @Param        id   path      string  true  "Model ID"
// @Success      200  {object}  types.ModelMetrics
// @Failure      404  {object}  types.ErrorResponse
// @Router       /models/{id}/metrics [get]
func handleModelMetrics(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mm, err := svc.ModelMetrics(chi.URLParam(r, "id"))
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, mm)
	}
}

// handleInfer godoc
// @Summary      Run inference
// @Description  Admits the request, loads the model if needed and runs one prediction with retries.
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request  body      types.InferRequest  true  "Inference request"
// @Success      200      {object}  types.InferResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /infer [post]
func handleInfer(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.InferRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ID == "" {
			req.ID = middleware.GetReqID(r.Context())
		}
		ctx, cancel := workContext(r.Context())
		defer cancel()
		resp, err := svc.Submit(ctx, req)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// handleStatus godoc
// @Summary      Resource status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.ResourceStatus
// @Router       /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// handleMemory godoc
// @Summary      Host memory status
// @Tags         memory
// @Produce      json
// @Success      200  {object}  types.MemoryResponse
// @Router       /memory [get]
func handleMemory(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.MemoryStatus(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// handleCleanup godoc
// @Summary      Force memory cleanup
// @Tags         memory
// @Produce      json
// @Success      200  {object}  types.CleanupResponse
// @Router       /memory/cleanup [post]
func handleCleanup(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Cleanup(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleDevice godoc
// @Summary      Device status
// @Tags         device
// @Produce      json
// @Success      200  {object}  types.DeviceStatus
// @Failure      503  {object}  types.ErrorResponse
// @Router       /device [get]
func handleDevice(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.DeviceStatus(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// handleCapabilities godoc
// @Summary      Detected capabilities
// @Tags         device
// @Produce      json
// @Success      200  {object}  types.Capabilities
// @Router       /capabilities [get]
func handleCapabilities(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Capabilities())
	}
}

// handleRefresh godoc
// @Summary      Re-detect capabilities
// @Tags         device
// @Produce      json
// @Success      200  {object}  types.Capabilities
// @Router       /capabilities/refresh [post]
func handleRefresh(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.RefreshCapabilities(r.Context()))
	}
}

// handleSettings godoc
// @Summary      Effective device settings
// @Tags         device
// @Produce      json
// @Success      200  {object}  types.DeviceSettings
// @Router       /config [get]
func handleSettings(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Settings())
	}
}

// handleConfigure godoc
// @Summary      Configure the device
// @Description  Omitted fields are left unchanged. Values above the detected limits are rejected.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        config  body      types.DeviceConfig  true  "Device configuration"
// @Success      200     {object}  types.DeviceSettings
// @Failure      400     {object}  types.ErrorResponse
// @Router       /config [put]
func handleConfigure(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg types.DeviceConfig
		if !decodeJSON(w, r, &cfg) {
			return
		}
		s, err := svc.Configure(cfg)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}
