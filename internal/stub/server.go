package stub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"verdyct/internal/domain"
)

var (
	errNotFound = errors.New("not found")
	errConflict = errors.New("conflict")
)

// Config for the stub HTTP handler.
type Config struct {
	Service   *Service
	JWTSecret string
}

// New returns an HTTP handler exposing the analysis service contract.
func New(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		cfg.Service = NewService()
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(cfg.JWTSecret))
	hcfg := huma.DefaultConfig("Verdyct Stub API", "0.1.0")
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)

	registerHealth(api)
	registerAnalyses(api, cfg.Service)
	registerProjects(api, cfg.Service)
	registerTimeline(api, cfg.Service)

	return router, nil
}

func handleError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotFound):
		return huma.Error404NotFound("not found")
	case errors.Is(err, errConflict):
		return huma.Error409Conflict("conflict")
	default:
		return huma.Error500InternalServerError("internal error", err)
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type submitRequest struct {
	Body struct {
		Idea string `json:"idea"`
		Name string `json:"name,omitempty"`
	}
}

func registerAnalyses(api huma.API, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-analysis",
		Method:        http.MethodPost,
		Path:          "/analyses",
		Summary:       "Submit an idea for analysis",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *submitRequest) (*struct {
		Body struct {
			ID     string           `json:"id"`
			Status domain.JobStatus `json:"status"`
		}
	}, error) {
		if strings.TrimSpace(input.Body.Idea) == "" {
			return nil, huma.Error400BadRequest("idea is required")
		}
		job := svc.Submit(input.Body.Idea, input.Body.Name)
		out := &struct {
			Body struct {
				ID     string           `json:"id"`
				Status domain.JobStatus `json:"status"`
			}
		}{}
		out.Body.ID = job.ID
		out.Body.Status = job.Status
		return out, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Project snapshot",
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.AnalysisJob `json:"body"`
	}, error) {
		job, err := svc.GetProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AnalysisJob `json:"body"`
		}{Body: job}, nil
	})
}

type timelineBody struct {
	Exists   bool             `json:"exists"`
	Status   string           `json:"status,omitempty"`
	Steps    []domain.Step    `json:"steps,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
}

func registerTimeline(api huma.API, svc *Service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-timeline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/timeline",
		Summary:     "Fetch the timeline",
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body timelineBody `json:"body"`
	}, error) {
		exists, status, steps, messages, err := svc.GetTimeline(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body timelineBody `json:"body"`
		}{Body: timelineBody{Exists: exists, Status: status, Steps: steps, Messages: messages}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-timeline",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/timeline",
		Summary:       "Bootstrap the timeline",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body timelineBody `json:"body"`
	}, error) {
		status, messages, err := svc.StartTimeline(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body timelineBody `json:"body"`
		}{Body: timelineBody{Exists: true, Status: status, Messages: messages}}, nil
	})

	type messageRequest struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			Message string `json:"message"`
			StepID  string `json:"step_id,omitempty"`
		}
	}
	type messageBody struct {
		Reply    string           `json:"reply"`
		Action   string           `json:"action,omitempty"`
		Status   string           `json:"status,omitempty"`
		Messages []domain.Message `json:"messages,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "timeline-message",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/timeline/message",
		Summary:     "Append a chat turn",
	}, func(ctx context.Context, input *messageRequest) (*struct {
		Body messageBody `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Message) == "" {
			return nil, huma.Error400BadRequest("message is required")
		}
		reply, action, status, messages, err := svc.SendMessage(input.ProjectID, input.Body.Message, input.Body.StepID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body messageBody `json:"body"`
		}{Body: messageBody{Reply: reply, Action: action, Status: status, Messages: messages}}, nil
	})

	type completePath struct {
		ProjectID string `path:"project_id"`
		StepID    string `path:"step_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "complete-step",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/timeline/steps/{step_id}/complete",
		Summary:     "Complete a step",
	}, func(ctx context.Context, input *completePath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := svc.CompleteStep(input.ProjectID, input.StepID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func newAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path == "/health" {
				next.ServeHTTP(w, req)
				return
			}
			token, ok := bearerToken(strings.TrimSpace(req.Header.Get("Authorization")))
			if !ok {
				respondUnauthorized(w, "authentication required")
				return
			}
			if _, err := authenticate(token, secret); err != nil {
				respondUnauthorized(w, "invalid credentials")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func authenticate(token, secret string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// MintToken issues a signed dev token accepted by the stub's middleware.
// `verdyct stub` prints one so the client can log in against it.
func MintToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
