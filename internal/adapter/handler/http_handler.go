package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/pharma-dispatch/internal/core/service"
)

type HTTPHandler struct {
	inventory *service.InventoryService
	jwtSecret []byte
}

type StockResponse struct {
	Success    bool  `json:"success"`
	ProductID  int64 `json:"product_id"`
	TotalStock int   `json:"total_stock"`
}

type ExpiringResponse struct {
	Success bool        `json:"success"`
	Days    int         `json:"days"`
	Batches []BatchView `json:"batches"`
}

func NewHTTPHandler(inventory *service.InventoryService, jwtSecret []byte) *HTTPHandler {
	return &HTTPHandler{inventory: inventory, jwtSecret: jwtSecret}
}

// Router wires up the HTTP API. Everything under /api requires a bearer
// token carrying the caller's id and role.
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(api chi.Router) {
		api.Use(h.authMiddleware)

		api.Route("/batches", func(r chi.Router) {
			r.Post("/intake", h.Intake)
			r.Post("/withdraw", h.Withdraw)
			r.Get("/expiring", h.Expiring)
		})

		api.Get("/products/{id}/stock", h.Stock)
		api.Post("/rfid/events", h.ReaderEvent)

		api.Route("/prescriptions", func(r chi.Router) {
			r.Post("/", h.CreatePrescription)
			r.Get("/{id}", h.GetPrescription)
			r.Post("/{id}/cancel", h.CancelPrescription)
			r.Post("/{id}/items/{itemID}/dispatch", h.Dispatch)
		})
	})

	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Intake(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := req.toService()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.inventory.IntakeByRFID(r.Context(), actorFromContext(r.Context()), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == service.IntakeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, newIntakeResponse(result))
}

func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.inventory.WithdrawByRFID(r.Context(), actorFromContext(r.Context()), req.toService())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWithdrawResponse(result))
}

func (h *HTTPHandler) ReaderEvent(w http.ResponseWriter, r *http.Request) {
	var req ReaderEventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.inventory.HandleReaderEvent(r.Context(), actorFromContext(r.Context()), req.RFIDCode, req.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newReaderEventResponse(result))
}

func (h *HTTPHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	days := 0
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "days must be a non-negative integer")
			return
		}
		days = n
	}

	batches, err := h.inventory.ExpiringBatches(r.Context(), days)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]BatchView, 0, len(batches))
	for i := range batches {
		views = append(views, newBatchView(&batches[i]))
	}
	writeJSON(w, http.StatusOK, ExpiringResponse{Success: true, Days: h.inventory.ExpiryWindow(days), Batches: views})
}

func (h *HTTPHandler) Stock(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	total, err := h.inventory.TotalStock(r.Context(), productID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StockResponse{Success: true, ProductID: productID, TotalStock: total})
}

func (h *HTTPHandler) CreatePrescription(w http.ResponseWriter, r *http.Request) {
	var req CreatePrescriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	in, err := req.toService()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prescription, err := h.inventory.CreatePrescription(r.Context(), actorFromContext(r.Context()), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PrescriptionResponse{Success: true, Prescription: newPrescriptionView(prescription)})
}

func (h *HTTPHandler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	prescriptionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	prescription, err := h.inventory.GetPrescription(r.Context(), prescriptionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PrescriptionResponse{Success: true, Prescription: newPrescriptionView(prescription)})
}

func (h *HTTPHandler) CancelPrescription(w http.ResponseWriter, r *http.Request) {
	prescriptionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	prescription, err := h.inventory.CancelPrescription(r.Context(), actorFromContext(r.Context()), prescriptionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PrescriptionResponse{Success: true, Prescription: newPrescriptionView(prescription)})
}

func (h *HTTPHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	prescriptionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	itemID, ok := pathID(w, r, "itemID")
	if !ok {
		return
	}

	var req DispatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.PrescriptionID, req.ItemID = prescriptionID, itemID

	result, err := h.inventory.DispatchItem(r.Context(), actorFromContext(r.Context()), req.toService())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDispatchResponse(result))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, body := newErrorResponse(err)
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
