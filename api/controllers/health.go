package controllers

import (
	"context"
	"net/http"

	"github.com/airmesh-mobile/airmesh-backend/api/responses"
	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

const envHeader = "X-AirMesh-Env"

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set(envHeader, cfg.App.Env)

		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" not ready"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}

// ReadyDeps assembles the dependency map HealthReady probes.
func ReadyDeps(db, redis pinger) map[string]pinger {
	return map[string]pinger{
		"database": db,
		"redis":    redis,
	}
}
