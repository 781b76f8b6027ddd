package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/hospitaldesk/internal/handlers/render"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/service/otp"
)

type otpService interface {
	SendSms(ctx context.Context, username string, contact string) (otp.SendResult, error)
	SendEmail(ctx context.Context, username string, email string) (otp.SendResult, error)

	// Expected failures are returned as result, error means the check could not be done
	Verify(ctx context.Context, userID int64, channel models.OtpChannel, code string) (otp.Result, error)
}

type OtpHandler struct {
	otp otpService
}

func NewOtp(otp otpService) *OtpHandler {
	return &OtpHandler{otp: otp}
}

func (h *OtpHandler) SendSms(w http.ResponseWriter, r *http.Request) {
	type SendSmsRequest struct {
		Username string `json:"username" validate:"required,max=100"`
		Contact  string `json:"contact" validate:"required,max=20"`
	}

	data, err := render.BindAndValidate[SendSmsRequest](w, r)
	if err != nil {
		return
	}

	res, err := h.otp.SendSms(r.Context(), data.Username, data.Contact)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, res)
}

func (h *OtpHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	type SendEmailRequest struct {
		Username string `json:"username" validate:"required,max=100"`
		Email    string `json:"email" validate:"required,email"`
	}

	data, err := render.BindAndValidate[SendEmailRequest](w, r)
	if err != nil {
		return
	}

	res, err := h.otp.SendEmail(r.Context(), data.Username, data.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, res)
}

func (h *OtpHandler) VerifySms(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, models.OtpChannelSMS)
}

func (h *OtpHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, models.OtpChannelEmail)
}

func (h *OtpHandler) verify(w http.ResponseWriter, r *http.Request, channel models.OtpChannel) {
	type VerifyRequest struct {
		UserID int64  `json:"userId" validate:"required,gt=0"`
		Otp    string `json:"otp" validate:"required,otp"`
	}
	type VerifyResponse struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[VerifyRequest](w, r)
	if err != nil {
		return
	}

	result, err := h.otp.Verify(r.Context(), data.UserID, channel, data.Otp)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch result {
	case otp.ResultVerified:
		render.JSON(w, VerifyResponse{Code: int(result), Message: result.String()})
	case otp.ResultUserNotFound, otp.ResultUserInactive:
		render.OtpError(w, result.String(), int(result), http.StatusBadRequest)
	default:
		render.OtpError(w, result.String(), int(result), http.StatusUnprocessableEntity)
	}
}
