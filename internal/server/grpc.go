package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/mcdexio/mai-protocol-v2/internal/core"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/ingestion"
	"github.com/mcdexio/mai-protocol-v2/internal/observability"
	"github.com/mcdexio/mai-protocol-v2/internal/query"
)

// Server exposes the query surface and the admin ingest surface over
// HTTP/JSON, plus a gRPC endpoint with health and reflection for infra
// tooling. High-throughput ingestion stays on NATS; this surface is for
// operators, dashboards and curl.
type Server struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string

	queries *query.Service
	admin   *ingestion.AdminIngestService
	health  *observability.HealthChecker
	log     zerolog.Logger
}

// Deps wires the server.
type Deps struct {
	Queries       *query.Service
	Admin         *ingestion.AdminIngestService
	HealthChecker *observability.HealthChecker
}

func New(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui.
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		queries:    deps.Queries,
		admin:      deps.Admin,
		health:     deps.HealthChecker,
		log:        observability.NewLogger("server"),
	}
}

// StartGRPC serves the gRPC endpoint until ctx ends. Blocking.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("grpc listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the HTTP/JSON surface until ctx ends. Blocking.
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.health != nil {
		httpMux.HandleFunc("/healthz", s.health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.health.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("http listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/book", s.handleBook},
		{"GET", "/v1/params", s.handleParams},
		{"GET", "/v1/accounts", s.handleListAccounts},
		{"GET", "/v1/accounts/{owner}", s.handleAccount},
		{"GET", "/v1/accounts/{owner}/margin", s.handleMarginView},
		{"GET", "/v1/accounts/{owner}/history", s.handleHistory},
		{"POST", "/v1/admin/params", s.handleSetParameter},
		{"POST", "/v1/admin/dev-account", s.handleSetDevAccount},
		{"POST", "/v1/admin/insurance/deposit", s.handleInsuranceDeposit},
		{"POST", "/v1/admin/insurance/withdraw", s.handleInsuranceWithdraw},
		{"POST", "/v1/admin/settlement/begin", s.handleBeginSettlement},
		{"POST", "/v1/admin/settlement/end", s.handleEndSettlement},
		{"POST", "/v1/admin/mark-price", s.handleMarkPrice},
		{"POST", "/v1/settle/{owner}", s.handleSettle},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

// --- Query handlers ---

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.queries.GetBook(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.queries.GetParams(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := s.queries.ListAccounts(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	resp, err := s.queries.GetAccount(r.Context(), owner)
	if err != nil {
		if errors.Is(err, core.ErrUnknownAccount) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMarginView(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	view, seq, err := s.queries.GetMarginView(r.Context(), owner)
	if err != nil {
		if errors.Is(err, core.ErrUnknownAccount) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"margin_view":    view,
		"as_of_sequence": seq,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.queries.GetHistory(r.Context(), owner, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// --- Admin handlers ---

type amountRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleSetParameter(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Caller string `json:"caller"`
		Key    string `json:"key"`
		Value  string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid caller: %w", err))
		return
	}
	value, err := fixmath.Parse(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid value: %w", err))
		return
	}
	if err := s.admin.InjectSetParameter(r.Context(), caller, req.Key, value); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeAccepted(w)
}

func (s *Server) handleSetDevAccount(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Caller string `json:"caller"`
		Dev    string `json:"dev"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid caller: %w", err))
		return
	}
	dev, err := uuid.Parse(req.Dev)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid dev: %w", err))
		return
	}
	if err := s.admin.InjectSetDevAccount(r.Context(), caller, dev); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeAccepted(w)
}

func (s *Server) handleInsuranceDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleInsurance(w, r, s.admin.InjectInsuranceDeposit)
}

func (s *Server) handleInsuranceWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	s.handleInsurance(w, r, s.admin.InjectInsuranceWithdraw)
}

func (s *Server) handleInsurance(w http.ResponseWriter, r *http.Request, inject func(context.Context, uuid.UUID, fixmath.Wad) error) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid caller: %w", err))
		return
	}
	amount, err := fixmath.Parse(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid amount: %w", err))
		return
	}
	if err := inject(r.Context(), caller, amount); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeAccepted(w)
}

func (s *Server) handleBeginSettlement(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Caller string `json:"caller"`
		Price  string `json:"price"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid caller: %w", err))
		return
	}
	price, err := fixmath.Parse(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid price: %w", err))
		return
	}
	if err := s.admin.InjectBeginSettlement(r.Context(), caller, price); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeAccepted(w)
}

func (s *Server) handleEndSettlement(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := uuid.Parse(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid caller: %w", err))
		return
	}
	if err := s.admin.InjectEndSettlement(r.Context(), caller); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeAccepted(w)
}

func (s *Server) handleMarkPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Price string `json:"price"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	price, err := fixmath.Parse(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid price: %w", err))
		return
	}
	if err := s.admin.InjectMarkPrice(r.Context(), price); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeAccepted(w)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}
	if err := s.admin.InjectSettle(r.Context(), owner); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeAccepted(w)
}

// --- helpers ---

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAccepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
