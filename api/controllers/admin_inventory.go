package controllers

import (
	"net/http"

	"github.com/airmesh-mobile/airmesh-backend/api/responses"
	"github.com/airmesh-mobile/airmesh-backend/api/validators"
	"github.com/airmesh-mobile/airmesh-backend/internal/inventory"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
)

type restockRequest struct {
	Items []inventory.RestockItem `json:"items" validate:"required,min=1,max=5000,dive"`
}

type restockResponse struct {
	Accepted int64 `json:"accepted"`
	Skipped  int64 `json:"skipped"`
}

// AdminInventoryRestock uploads a batch of ICCIDs into the pool. Rows that
// already exist are skipped rather than rejected so operators can replay a
// partially applied upload.
func AdminInventoryRestock(allocator inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req restockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		inserted, err := allocator.Restock(ctx, req.Items)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"uploaded": len(req.Items),
				"accepted": inserted,
			}), "inventory restocked")
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, restockResponse{
			Accepted: inserted,
			Skipped:  int64(len(req.Items)) - inserted,
		})
	}
}

// AdminInventoryStock reports the pool broken down by status.
func AdminInventoryStock(allocator inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		counts, err := allocator.StockCounts(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, counts)
	}
}
