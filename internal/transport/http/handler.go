package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"paidquiz-service/internal/app"
	"paidquiz-service/internal/domain"
)

// Handler serves the JSON API around the submission lifecycle.
type Handler struct {
	service      *app.SubmissionService
	validate     *validator.Validate
	gatewayKeyID string
}

func NewHandler(service *app.SubmissionService, gatewayKeyID string) *Handler {
	return &Handler{
		service:      service,
		validate:     validator.New(),
		gatewayKeyID: gatewayKeyID,
	}
}

// Register wires the API routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /tests", h.listTests)
	mux.HandleFunc("GET /tests/{id}/questions", h.questions)
	mux.HandleFunc("GET /tests/{id}/submissions", h.listSubmissions)
	mux.HandleFunc("POST /tests/{id}/submissions", h.register)
	mux.HandleFunc("POST /tests/{id}/submissions/{sid}/answers", h.answers)
	mux.HandleFunc("POST /payments/callback", h.paymentCallback)
	mux.HandleFunc("GET /coupons", h.coupons)
}

type registerRequest struct {
	Name      string `json:"name" validate:"required"`
	Mobile    string `json:"mobile" validate:"required"`
	Institute string `json:"institute"`
	Address   string `json:"address"`
	Ref       string `json:"ref"`
	Coupon    string `json:"coupon"`
}

type orderResponse struct {
	OrderID     string `json:"orderId"`
	AmountPaise int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"keyId,omitempty"`
}

type registerResponse struct {
	SubmissionID string         `json:"submissionId"`
	Status       domain.Status  `json:"status"`
	PayableINR   float64        `json:"payable"`
	Order        *orderResponse `json:"order,omitempty"`
	Redirect     string         `json:"redirect,omitempty"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	testID := r.PathValue("id")
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "name and mobile are required")
		return
	}

	result, err := h.service.Register(r.Context(), testID, app.RegisterInput{
		Name:       req.Name,
		Mobile:     req.Mobile,
		Institute:  req.Institute,
		Address:    req.Address,
		Ref:        req.Ref,
		CouponCode: req.Coupon,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := registerResponse{
		SubmissionID: result.Submission.ID,
		Status:       result.Submission.Status,
		PayableINR:   result.Submission.PayableINR,
	}
	if result.Order != nil {
		resp.Order = &orderResponse{
			OrderID:     result.Order.OrderID,
			AmountPaise: result.Order.AmountPaise,
			Currency:    result.Order.Currency,
			KeyID:       h.gatewayKeyID,
		}
	} else {
		resp.Redirect = questionsPath(result.Submission.TestID, result.Submission.ID)
	}
	writeJSON(w, http.StatusCreated, resp)
}

type callbackRequest struct {
	SubmissionID string `json:"submissionId" validate:"required"`
	OrderID      string `json:"orderId" validate:"required"`
	PaymentID    string `json:"paymentId" validate:"required"`
	Signature    string `json:"signature" validate:"required"`
}

func (h *Handler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing payment data")
		return
	}

	sub, err := h.service.ConfirmPayment(r.Context(), req.SubmissionID, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"redirect": questionsPath(sub.TestID, sub.ID),
	})
}

type answersRequest struct {
	Answers map[int]string `json:"answers"`
}

func (h *Handler) answers(w http.ResponseWriter, r *http.Request) {
	submissionID := r.PathValue("sid")
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.service.SubmitAnswers(r.Context(), submissionID, req.Answers); err != nil {
		writeServiceError(w, err)
		return
	}
	score, err := h.service.ScoreSubmission(r.Context(), submissionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// The shareable referral code is the submission's own id.
	writeJSON(w, http.StatusOK, map[string]any{
		"score":   score,
		"refCode": submissionID,
	})
}

func (h *Handler) questions(w http.ResponseWriter, r *http.Request) {
	testID := r.PathValue("id")
	submissionID := r.URL.Query().Get("sid")
	if submissionID == "" {
		writeError(w, http.StatusBadRequest, "missing sid")
		return
	}
	questions, err := h.service.Questions(r.Context(), testID, submissionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (h *Handler) listTests(w http.ResponseWriter, r *http.Request) {
	tests, err := h.service.Tests(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Question banks stay server-side; only listing fields go out.
	type testSummary struct {
		ID        string  `json:"id"`
		Title     string  `json:"title"`
		PriceINR  float64 `json:"priceInr"`
		Questions int     `json:"questionCount"`
	}
	summaries := make([]testSummary, 0, len(tests))
	for _, t := range tests {
		summaries = append(summaries, testSummary{
			ID:        t.ID,
			Title:     t.Title,
			PriceINR:  t.PriceINR,
			Questions: len(t.Questions),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": summaries})
}

func (h *Handler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	testID := r.PathValue("id")
	subs, err := h.service.Submissions(r.Context(), testID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Operator view; contact fields stay server-side.
	type submissionSummary struct {
		ID        string        `json:"id"`
		Name      string        `json:"name"`
		Status    domain.Status `json:"status"`
		Paid      bool          `json:"paid"`
		Score     *int          `json:"score,omitempty"`
		CreatedAt time.Time     `json:"createdAt"`
	}
	summaries := make([]submissionSummary, 0, len(subs))
	for _, sub := range subs {
		summaries = append(summaries, submissionSummary{
			ID:        sub.ID,
			Name:      sub.Name,
			Status:    sub.Status,
			Paid:      sub.Paid,
			Score:     sub.Score,
			CreatedAt: sub.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": summaries})
}

func (h *Handler) coupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.service.Coupons(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

func questionsPath(testID, submissionID string) string {
	return fmt.Sprintf("/tests/%s/questions?sid=%s", testID, submissionID)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTestNotFound), errors.Is(err, domain.ErrSubmissionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSignatureInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPaymentRequired):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
