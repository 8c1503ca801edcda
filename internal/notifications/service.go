package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
	"github.com/airmesh-mobile/airmesh-backend/pkg/logger"
	"github.com/airmesh-mobile/airmesh-backend/pkg/metrics"
)

const activationSubject = "Your AirMesh eSIM is ready"

// Service delivers customer-facing notifications.
type Service interface {
	SendActivationEmail(ctx context.Context, input ActivationEmailInput) error
}

// ActivationEmailInput carries everything the activation email renders.
// QRCodeBase64 is attached inline when present; the LPA string is always
// included as a manual fallback.
type ActivationEmailInput struct {
	ToEmail      string
	ToName       string
	PhoneNumber  string
	ICCID        string
	LPAString    string
	QRCodeBase64 string
}

// Sender is the delivery surface, satisfied by sendgrid.Client.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// ServiceParams wires the notification dependencies.
type ServiceParams struct {
	Config  config.SendgridConfig
	Sender  Sender
	Logger  *logger.Logger
	Metrics *metrics.ActivationMetrics
}

type service struct {
	cfg     config.SendgridConfig
	sender  Sender
	logg    *logger.Logger
	metrics *metrics.ActivationMetrics
}

// NewService builds the notification service. When no sender is supplied one
// is constructed from the configured SendGrid API key.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	sender := params.Sender
	if sender == nil {
		if strings.TrimSpace(params.Config.APIKey) == "" {
			return nil, fmt.Errorf("sendgrid api key is required")
		}
		sender = sendgrid.NewSendClient(params.Config.APIKey)
	}
	if strings.TrimSpace(params.Config.DefaultFrom) == "" {
		return nil, fmt.Errorf("sendgrid from address is required")
	}
	return &service{
		cfg:     params.Config,
		sender:  sender,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (s *service) SendActivationEmail(ctx context.Context, input ActivationEmailInput) error {
	if strings.TrimSpace(input.ToEmail) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "recipient email is required")
	}

	message := s.buildActivationEmail(input)
	resp, err := s.sender.SendWithContext(ctx, message)
	if err != nil {
		s.metrics.IncEmail("error")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send activation email")
	}
	if resp != nil && resp.StatusCode >= http.StatusMultipleChoices {
		s.metrics.IncEmail("rejected")
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("sendgrid rejected activation email: status %d", resp.StatusCode))
	}

	s.metrics.IncEmail("sent")
	s.logg.Info(s.logg.WithField(ctx, "recipient", input.ToEmail), "activation email sent")
	return nil
}

func (s *service) buildActivationEmail(input ActivationEmailInput) *mail.SGMailV3 {
	from := mail.NewEmail(s.cfg.FromName, s.cfg.DefaultFrom)
	to := mail.NewEmail(input.ToName, input.ToEmail)

	var plain strings.Builder
	plain.WriteString("Your eSIM is ready to install.\n\n")
	if input.PhoneNumber != "" {
		fmt.Fprintf(&plain, "Phone number: %s\n", input.PhoneNumber)
	}
	if input.ICCID != "" {
		fmt.Fprintf(&plain, "ICCID: %s\n", input.ICCID)
	}
	if input.LPAString != "" {
		fmt.Fprintf(&plain, "Manual activation string: %s\n", input.LPAString)
	}

	var html strings.Builder
	html.WriteString("<p>Your eSIM is ready to install.</p>")
	if input.PhoneNumber != "" {
		fmt.Fprintf(&html, "<p>Phone number: <strong>%s</strong></p>", input.PhoneNumber)
	}
	if input.QRCodeBase64 != "" {
		html.WriteString(`<p>Scan this QR code from your device's cellular settings:</p>`)
		html.WriteString(`<img src="cid:esim-qr" alt="eSIM activation QR code" width="256" height="256"/>`)
	}
	if input.LPAString != "" {
		fmt.Fprintf(&html, "<p>Or enter the activation string manually:</p><pre>%s</pre>", input.LPAString)
	}

	message := mail.NewSingleEmail(from, activationSubject, to, plain.String(), html.String())

	if input.QRCodeBase64 != "" {
		attachment := mail.NewAttachment()
		attachment.SetContent(input.QRCodeBase64)
		attachment.SetType("image/png")
		attachment.SetFilename("esim-qr.png")
		attachment.SetDisposition("inline")
		attachment.SetContentID("esim-qr")
		message.AddAttachment(attachment)
	}

	return message
}
