package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	homecode "github.com/abaland/Home-Code"
	"github.com/abaland/Home-Code/contracts"
	"github.com/abaland/Home-Code/health"
	"github.com/abaland/Home-Code/monitor"
	"github.com/abaland/Home-Code/serialization"
)

const maxBodyBytes = 64 << 10

// Commander is the part of homecode.Client the gateway drives.
type Commander interface {
	Send(ctx context.Context, in contracts.Instruction) error
	Ask(ctx context.Context, in contracts.Instruction, timeout time.Duration, onResponse func(contracts.WorkerResponse)) (homecode.AskResult, error)
}

// Gateway exposes the command client over HTTP for front ends that cannot
// speak AMQP.
type Gateway struct {
	commander Commander
	health    *health.Monitor
	metrics   *monitor.SimpleMetricsCollector
	logger    *slog.Logger
	maxWait   time.Duration
	server    *http.Server
}

// Option configures the Gateway
type Option func(*Gateway)

// WithHealth serves the monitor report on /healthz
func WithHealth(m *health.Monitor) Option {
	return func(g *Gateway) {
		g.health = m
	}
}

// WithMetrics serves metrics on /metrics
func WithMetrics(metrics *monitor.SimpleMetricsCollector) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMaxWait caps the timeout a caller may ask for
func WithMaxWait(d time.Duration) Option {
	return func(g *Gateway) {
		g.maxWait = d
	}
}

// New creates a gateway
func New(commander Commander, options ...Option) *Gateway {
	g := &Gateway{
		commander: commander,
		logger:    slog.Default(),
		maxWait:   30 * time.Second,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Routes returns the HTTP routes
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/instructions", g.HandleSend)
	r.Post("/ask/{category}", g.HandleAsk)
	if g.health != nil {
		r.Method(http.MethodGet, "/healthz", health.NewHandler(g.health, 5*time.Second))
	}
	if g.metrics != nil {
		r.Get("/metrics", g.HandleMetrics)
	}
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (g *Gateway) ListenAndServe(ctx context.Context, addr string) error {
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		g.logger.Info("starting gateway", "addr", addr)
		errs <- g.server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		g.logger.Info("shutting down gateway", "addr", addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	}
}

// HandleSend publishes the XML instruction in the body.
func (g *Gateway) HandleSend(w http.ResponseWriter, r *http.Request) {
	in, err := readInstruction(r)
	if err != nil {
		g.handleError(w, err)
		return
	}

	if err := g.commander.Send(r.Context(), in); err != nil {
		g.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "type": in.Type})
}

// HandleAsk sends an instruction of {category} and waits for the replies.
// With an empty body a query instruction is built from ?target=. The wait
// is ?timeout= (a Go duration). A timeout answers 504 with any partial
// responses.
func (g *Gateway) HandleAsk(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	in, err := readInstruction(r)
	switch {
	case errors.Is(err, errEmptyBody):
		in = contracts.NewQueryInstruction(category, contracts.SplitTargets(r.URL.Query().Get("target"))...)
	case err != nil:
		g.handleError(w, err)
		return
	case in.Type != category:
		g.handleError(w, badRequest(fmt.Sprintf("instruction type %q does not match %q", in.Type, category)))
		return
	}

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		timeout, err = time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			g.handleError(w, badRequest("invalid timeout "+raw))
			return
		}
		if timeout > g.maxWait {
			timeout = g.maxWait
		}
	}

	result, err := g.commander.Ask(r.Context(), in, timeout, nil)
	if err != nil {
		g.handleError(w, err)
		return
	}

	body := askView{
		CorrelationID: result.CorrelationID,
		State:         result.State.String(),
		ElapsedMs:     result.Elapsed.Milliseconds(),
		Responses:     make([]responseView, 0, len(result.Responses)),
	}
	for _, resp := range result.Responses {
		body.Responses = append(body.Responses, newResponseView(resp))
	}

	status := http.StatusOK
	if !result.Matched() {
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, body)
}

// HandleMetrics serves the metrics summary
func (g *Gateway) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.metrics.GetMetricsSummary())
}

type askView struct {
	CorrelationID string         `json:"correlation_id"`
	State         string         `json:"state"`
	ElapsedMs     int64          `json:"elapsed_ms"`
	Responses     []responseView `json:"responses"`
}

type responseView struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Succeeded  bool              `json:"succeeded"`
	Version    string            `json:"version,omitempty"`
	Timestamp  string            `json:"timestamp,omitempty"`
	CPU        string            `json:"cpu,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Elements   []elementView     `json:"elements,omitempty"`
}

type elementView struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func newResponseView(resp contracts.WorkerResponse) responseView {
	view := responseView{
		ID:         resp.ID,
		Status:     resp.Status,
		Succeeded:  resp.Succeeded(),
		Version:    resp.Version,
		Timestamp:  resp.Timestamp,
		CPU:        resp.CPU,
		Attributes: resp.Attributes,
	}
	for _, el := range resp.Elements {
		view.Elements = append(view.Elements, elementView{Name: el.Name, Attributes: el.Attributes})
	}
	return view
}

var errEmptyBody = errors.New("empty body")

type requestError struct {
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(message string) error {
	return &requestError{message: message}
}

func readInstruction(r *http.Request) (contracts.Instruction, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return contracts.Instruction{}, badRequest("could not read body")
	}
	if len(payload) == 0 {
		return contracts.Instruction{}, errEmptyBody
	}
	return serialization.DecodeInstruction(payload)
}

func (g *Gateway) handleError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		http.Error(w, reqErr.message, http.StatusBadRequest)
	case errors.Is(err, errEmptyBody):
		http.Error(w, "instruction body is required", http.StatusBadRequest)
	case contracts.IsParseError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		g.logger.Error("command failed", "error", err)
		http.Error(w, "broker unavailable", http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}
