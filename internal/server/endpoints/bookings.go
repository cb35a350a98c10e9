package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tanjia/internal/api"
	"github.com/jackzampolin/tanjia/internal/booking"
	"github.com/jackzampolin/tanjia/internal/store"
	"github.com/jackzampolin/tanjia/internal/svcctx"
)

// WebhookSecretHeader carries the shared webhook secret.
const WebhookSecretHeader = "X-Webhook-Secret"

// BookingWebhookEndpoint handles POST /api/v1/webhooks/booking.
type BookingWebhookEndpoint struct {
	// Secret returns the configured shared secret. Read per request so
	// config reloads apply.
	Secret func() string
}

func (e *BookingWebhookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/webhooks/booking", e.handler
}

func (e *BookingWebhookEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Booking webhook
//	@Description	Receive a scheduling-provider delivery, upsert it by external id and link it to a lead by attendee email
//	@Tags			bookings
//	@Accept			json
//	@Produce		json
//	@Param			X-Webhook-Secret	header		string	false	"Shared secret"
//	@Param			secret				query		string	false	"Shared secret (alternative to header)"
//	@Success		200					{object}	booking.Result	"Existing booking updated"
//	@Success		201					{object}	booking.Result	"Booking created"
//	@Failure		400					{object}	ErrorResponse
//	@Failure		401					{object}	ErrorResponse
//	@Failure		500					{object}	ErrorResponse
//	@Router			/api/v1/webhooks/booking [post]
func (e *BookingWebhookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	configured := ""
	if e.Secret != nil {
		configured = e.Secret()
	}
	if configured == "" {
		svcctx.LoggerFrom(r.Context()).Error("booking webhook secret is not configured")
		writeError(w, http.StatusInternalServerError, "webhook secret not configured")
		return
	}
	provided := r.Header.Get(WebhookSecretHeader)
	if provided == "" {
		provided = r.URL.Query().Get("secret")
	}
	if !booking.SecretMatches(configured, provided) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	res, err := svcctx.BookingsFrom(r.Context()).Ingest(r.Context(), body)
	switch {
	case errors.Is(err, booking.ErrMissingExternalID), errors.Is(err, booking.ErrInvalidBody):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeServiceError(w, r, "booking ingest", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (e *BookingWebhookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		file   string
		secret string
	)
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Replay a booking webhook payload",
		Long: `Send a booking payload to the webhook endpoint, as the scheduling
provider would. Useful for testing lead linking.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				body []byte
				err  error
			)
			if file == "" || file == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			if !json.Valid(body) {
				return fmt.Errorf("payload is not valid JSON")
			}
			params := url.Values{}
			params.Set("secret", secret)
			client := api.NewClient(getServerURL())
			var resp booking.Result
			if err := client.Post(cmd.Context(), withQuery("/api/v1/webhooks/booking", params), json.RawMessage(body), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload file (default stdin)")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("TANJIA_WEBHOOK_SECRET"), "Webhook secret")
	return cmd
}

// BookingsResponse lists bookings.
type BookingsResponse struct {
	Bookings []store.Booking `json:"bookings"`
}

// ListBookingsEndpoint handles GET /api/v1/bookings.
type ListBookingsEndpoint struct{}

func (e *ListBookingsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/bookings", e.handler
}

func (e *ListBookingsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List bookings
//	@Tags		bookings
//	@Produce	json
//	@Param		limit	query		int	false	"Max results (default 50)"
//	@Param		offset	query		int	false	"Offset"
//	@Success	200		{object}	BookingsResponse
//	@Failure	400		{object}	ErrorResponse
//	@Failure	500		{object}	ErrorResponse
//	@Router		/api/v1/bookings [get]
func (e *ListBookingsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := svcctx.StoreFrom(r.Context()).ListBookings(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, "list bookings", err)
		return
	}
	writeJSON(w, http.StatusOK, BookingsResponse{Bookings: list})
}

func (e *ListBookingsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				params.Set("offset", strconv.Itoa(offset))
			}
			client := api.NewClient(getServerURL())
			var resp BookingsResponse
			if err := client.Get(cmd.Context(), withQuery("/api/v1/bookings", params), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset")
	return cmd
}
