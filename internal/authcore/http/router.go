package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/openkettle/authcore/internal/authcore/secrets"
	"github.com/openkettle/authcore/internal/authcore/service"
	"github.com/openkettle/authcore/internal/authcore/store"
	"github.com/openkettle/authcore/pkg/httpx"
	"github.com/openkettle/authcore/pkg/slogx"
)

// Deliverer hands an issued code or token to whatever sends it to the user.
// The engine itself never sends anything; deployments plug in mail or SMS
// here. The default discards the value.
type Deliverer func(identifier, value string)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	issuer       string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.Store
	secrets secrets.Store

	OTPService     *service.OTPService
	ResetService   *service.ResetService
	SessionService *service.SessionService

	// Deliver receives issued OTP codes and reset tokens.
	Deliver Deliverer
}

func NewRouter(
	issuer, buildVersion string,
	st store.Store,
	sec secrets.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		issuer:       issuer,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		secrets:      sec,
		logger:       logger,
		Deliver:      func(string, string) {},
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerOTP()
	r.registerPasswordReset()
	r.registerSessions()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOTP() {
	requestHandler := &OTPRequestHandler{OTPService: r.OTPService, Deliver: r.deliver}
	r.Mux.Handle("POST /v1/otp/request",
		httpx.Chain(requestHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	verifyHandler := &OTPVerifyHandler{OTPService: r.OTPService}
	r.Mux.Handle("POST /v1/otp/verify",
		httpx.Chain(verifyHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	loginHandler := &OTPLoginHandler{OTPService: r.OTPService}
	r.Mux.Handle("POST /v1/otp/login",
		httpx.Chain(loginHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerPasswordReset() {
	requestHandler := &ResetRequestHandler{
		ResetService: r.ResetService,
		Store:        r.store,
		Deliver:      r.deliver,
	}
	r.Mux.Handle("POST /v1/password-reset/request",
		httpx.Chain(requestHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	confirmHandler := &ResetConfirmHandler{ResetService: r.ResetService}
	r.Mux.Handle("POST /v1/password-reset/confirm",
		httpx.Chain(confirmHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSessions() {
	refreshHandler := &RefreshHandler{SessionService: r.SessionService}
	r.Mux.Handle("POST /v1/session/refresh",
		httpx.Chain(refreshHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	logoutHandler := &LogoutHandler{SessionService: r.SessionService}
	r.Mux.Handle("POST /v1/session/logout",
		httpx.Chain(logoutHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.secrets),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) deliver(identifier, value string) {
	if r.Deliver != nil {
		r.Deliver(identifier, value)
	}
}
