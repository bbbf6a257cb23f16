package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/Agrid-Dev/proofbox/internal/hysteresis"
	"github.com/Agrid-Dev/proofbox/internal/ports"
	"github.com/Agrid-Dev/proofbox/internal/ui"
)

const maxBodyBytes = 1 << 10

type Server struct {
	svc      ports.HeaterService
	srv      *http.Server
	deviceID string
}

// New returns a runnable server exposing the heater status and thresholds.
func New(svc ports.HeaterService, addr string, deviceID string) *Server {
	s := &Server{svc: svc, deviceID: deviceID}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1", s.handleGet)
	mux.HandleFunc("POST /v1/upper_threshold", s.handlePostUpper)
	mux.HandleFunc("POST /v1/lower_threshold", s.handlePostLower)
	// both at once, to move the band past its current position in one step
	mux.HandleFunc("POST /v1/thresholds", s.handlePostThresholds)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	ui.Info("http listening on %s", s.srv.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusDTO struct {
	DeviceID       string     `json:"device_id"`
	Heater         string     `json:"heater"`
	UpperThreshold float64    `json:"upper_threshold"`
	LowerThreshold float64    `json:"lower_threshold"`
	Temperature    *float64   `json:"temperature"`
	Humidity       *float64   `json:"humidity,omitempty"`
	LastReadingAt  *time.Time `json:"last_reading_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	ActuatorError  string     `json:"actuator_error,omitempty"`
	FailureStreak  int        `json:"failure_streak"`
	FailSafe       bool       `json:"fail_safe"`
	Readings       uint64     `json:"readings"`
	Failures       uint64     `json:"failures"`
}

func (s *Server) status() statusDTO {
	st := s.svc.Get()
	dto := statusDTO{
		DeviceID:       s.deviceID,
		Heater:         st.Heater.String(),
		UpperThreshold: st.UpperThreshold,
		LowerThreshold: st.LowerThreshold,
		LastError:      st.LastError,
		ActuatorError:  st.ActuatorError,
		FailureStreak:  st.FailureStreak,
		FailSafe:       st.FailSafe,
		Readings:       st.Readings,
		Failures:       st.Failures,
	}
	// JSON has no NaN/Inf; those go out as null
	if st.HasTemperature && isFinite(st.Temperature) {
		dto.Temperature = &st.Temperature
	}
	if st.HasHumidity && isFinite(st.Humidity) {
		dto.Humidity = &st.Humidity
	}
	if !st.LastReadingAt.IsZero() {
		dto.LastReadingAt = &st.LastReadingAt
	}
	return dto
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (s *Server) handleGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.svc.Get().FailSafe {
		// the heater is held off until the sensor answers again
		http.Error(w, "fail-safe", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type valueReq struct {
	Value *float64 `json:"value"`
}

type thresholdsReq struct {
	Upper *float64 `json:"upper"`
	Lower *float64 `json:"lower"`
}

func (s *Server) handlePostUpper(w http.ResponseWriter, r *http.Request) {
	var req valueReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}
	s.apply(w, *req.Value, s.svc.Get().LowerThreshold)
}

func (s *Server) handlePostLower(w http.ResponseWriter, r *http.Request) {
	var req valueReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}
	s.apply(w, s.svc.Get().UpperThreshold, *req.Value)
}

func (s *Server) handlePostThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Upper == nil || req.Lower == nil {
		writeErr(w, http.StatusBadRequest, "fields 'upper' and 'lower' are required")
		return
	}
	s.apply(w, *req.Upper, *req.Lower)
}

func (s *Server) apply(w http.ResponseWriter, upper, lower float64) {
	if err := s.svc.SetThresholds(upper, lower); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, hysteresis.ErrInvalidConfiguration) {
			code = http.StatusUnprocessableEntity
		}
		writeErr(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// decodeBody rejects unknown fields and oversized bodies; it writes the
// error response itself.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, dst *T) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
