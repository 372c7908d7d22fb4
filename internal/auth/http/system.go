package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// Pinger reports whether the credential store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LivezHandler godoc
//
//	@Summary		Liveness probe
//	@Description	Returns 200 whenever the process is serving requests.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version"
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version string, clock clockx.Clock) http.HandlerFunc {
	clock = clockx.Or(clock)
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  clock.Now().Sub(startTime).String(),
			Version: version,
		})
	}
}

// HealthHandler godoc
//
//	@Summary		Health check
//	@Description	Reports database connectivity plus audit and mail queue state. Audit and mail problems
//	@Description	never fail the check; only an unreachable database does.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse
//	@Failure		503	{object}	authsdk.HealthResponse	"database disconnected"
//	@Router			/health [get].
func HealthHandler(startTime time.Time, version string, clock clockx.Clock, db Pinger, audit AuditHealth, mail MailHealth) http.HandlerFunc {
	clock = clockx.Or(clock)
	return func(w http.ResponseWriter, r *http.Request) {
		resp := authsdk.HealthResponse{
			Status:   "ok",
			Database: "connected",
			Uptime:   clock.Now().Sub(startTime).String(),
			Version:  version,
		}
		status := http.StatusOK

		if err := db.Ping(r.Context()); err != nil {
			slogx.FromContext(r.Context()).Error("health check: database unreachable", "err", err)
			resp.Status = "error"
			resp.Database = "disconnected"
			status = http.StatusServiceUnavailable
		}

		if audit != nil {
			h := audit.Health()
			resp.Audit = &authsdk.WorkerHealth{
				Queued:    h.Queued,
				Dropped:   h.Dropped,
				Failed:    h.Failed,
				LastError: h.LastError,
			}
		}
		if mail != nil {
			h := mail.Health()
			resp.Mailer = &authsdk.WorkerHealth{
				Provider:  h.Provider,
				Queued:    h.Queued,
				Sent:      h.Sent,
				Dropped:   h.Dropped,
				Failed:    h.Failed,
				Breaker:   h.Breaker,
				LastError: h.LastError,
			}
		}

		httpx.WriteJSON(w, status, resp)
	}
}

// MetricsHandler godoc
//
//	@Summary		Service counters
//	@Description	Registered users, active sessions and audit events in the last 24 hours.
//	@Tags			Health
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.MetricsResponse
//	@Failure		401	{object}	authsdk.APIError	"Invalid or missing access token"
//	@Failure		403	{object}	authsdk.APIError	"Admin role required"
//	@Router			/metrics [get].
func MetricsHandler(svc *service.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, authsdk.MetricsResponse{
			Users:              stats.Users,
			ActiveSessions:     stats.ActiveSessions,
			AuditEventsLast24h: stats.AuditEventsLast24,
		})
	}
}

// JWKSHandler exposes the JSON Web Key Set for public key discovery.
//
//	@Summary		Get JWKS
//	@Description	Returns the public key used to verify access tokens. Empty when tokens are HS256-signed.
//	@Tags			well-known
//	@Produce		json
//	@Success		200	{object}	authsdk.JWKSResponse	"The JSON Web Key Set"
//	@Router			/.well-known/jwks.json [get].
func JWKSHandler(signer jwtx.Signer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.JWKSResponse(jwtx.PublicJWKS(signer)))
	}
}
