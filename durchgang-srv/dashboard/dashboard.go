package dashboard

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/codefionn/durchgang/durchgang-srv/config"
	"github.com/codefionn/durchgang/durchgang-srv/logger"
	"github.com/codefionn/durchgang/durchgang-srv/stats"
)

// SessionTimeout is how long an issued API token stays valid.
const SessionTimeout = 24 * time.Hour

// Dashboard is the JSON status API. It runs on its own listener, separate
// from the proxy port, and reads everything it reports from the statistics
// collector.
type Dashboard struct {
	config    *config.Config
	collector stats.Collector
	jwtSecret []byte
	startTime time.Time
	server    *http.Server
}

// NewDashboard creates the status API. The JWT secret is generated per
// process; restarting the proxy invalidates outstanding tokens.
func NewDashboard(cfg *config.Config, collector stats.Collector) *Dashboard {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		secret = fmt.Appendf(nil, "durchgang-dashboard-%d", time.Now().UnixNano())
	}

	return &Dashboard{
		config:    cfg,
		collector: collector,
		jwtSecret: secret,
		startTime: time.Now(),
	}
}

// Handler returns the API routes.
func (d *Dashboard) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", d.handleLogin)
	mux.HandleFunc("/api/overview", d.requireAuth(d.handleOverview))
	mux.HandleFunc("/api/connections", d.requireAuth(d.handleConnections))
	mux.HandleFunc("/api/errors", d.requireAuth(d.handleErrors))
	mux.HandleFunc("/api/health", d.handleHealth)
	return mux
}

// Start serves the API on the configured dashboard address. It blocks until
// the server shuts down.
func (d *Dashboard) Start() error {
	d.server = &http.Server{
		Addr:         d.config.Dashboard.ListenAddress,
		Handler:      d.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Info("Starting dashboard API on %s", d.config.Dashboard.ListenAddress)
	err := d.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the API server down.
func (d *Dashboard) Stop(ctx context.Context) error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown(ctx)
}

// requiresAuthentication reports whether the API demands a token. It reuses
// the proxy credential; without one the API is open.
func (d *Dashboard) requiresAuthentication() bool {
	return d.config.Auth != nil && d.config.Auth.Username != ""
}

// handleLogin exchanges the proxy credential for a bearer token.
func (d *Dashboard) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !d.requiresAuthentication() {
		writeJSON(w, map[string]string{"token": ""})
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	usernameMatch := subtle.ConstantTimeCompare([]byte(body.Username), []byte(d.config.Auth.Username)) == 1
	passwordMatch := subtle.ConstantTimeCompare([]byte(body.Password), []byte(d.config.Auth.Password)) == 1
	if !usernameMatch || !passwordMatch {
		logger.Warn("Failed dashboard login for username %q from %s", body.Username, r.RemoteAddr)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := d.createToken(body.Username)
	if err != nil {
		logger.Error("Failed to sign dashboard token: %v", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	logger.Info("Dashboard login for username %q from %s", body.Username, r.RemoteAddr)
	writeJSON(w, map[string]string{"token": token})
}

// requireAuth wraps a handler with bearer token validation.
func (d *Dashboard) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.requiresAuthentication() && !d.isAuthenticated(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (d *Dashboard) isAuthenticated(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	token, err := d.parseToken(tokenString)
	if err != nil {
		logger.Debug("Dashboard token validation failed: %v", err)
		return false
	}
	return token.Valid
}

func (d *Dashboard) parseToken(tokenString string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return d.jwtSecret, nil
	})
}

func (d *Dashboard) createToken(username string) (string, error) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      time.Now().Add(SessionTimeout).Unix(),
		"iat":      time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(d.jwtSecret)
}

func (d *Dashboard) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := d.collector.Overview(r.Context())
	if err != nil {
		logger.Error("Failed to load overview stats: %v", err)
		http.Error(w, "failed to load data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, overview)
}

func (d *Dashboard) handleConnections(w http.ResponseWriter, r *http.Request) {
	events, err := d.collector.RecentConnections(r.Context(), queryLimit(r))
	if err != nil {
		logger.Error("Failed to load connection events: %v", err)
		http.Error(w, "failed to load data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"connections": events})
}

func (d *Dashboard) handleErrors(w http.ResponseWriter, r *http.Request) {
	summaries, err := d.collector.RecentErrors(r.Context(), queryLimit(r))
	if err != nil {
		logger.Error("Failed to load error summaries: %v", err)
		http.Error(w, "failed to load data", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"errors": summaries})
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := d.collector.HealthCheck(r.Context()); err != nil {
		logger.Warn("Dashboard health check failed: %v", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"uptime": time.Since(d.startTime).Round(time.Second).String(),
	}); err != nil {
		logger.Error("Failed to encode JSON response: %v", err)
	}
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return 50
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response: %v", err)
	}
}
