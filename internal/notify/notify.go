// Package notify tells reviewers about signed contracts and borrowers about
// review decisions and one-time codes.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	awsclient "loan-orchestrator/internal/common/aws"
	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/common/metrics"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/statemachine"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// UserLookup resolves the borrower behind an application.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Config struct {
	FromEmail  string
	AdminEmail string
	SenderID   string
}

type template struct {
	subject string
	body    string
}

var templates = map[statemachine.Event]template{
	statemachine.EventContractSigned: {
		subject: "Application {{applicationId}} is ready for review",
		body: "Application {{applicationId}} ({{country}}) signed its contract.\n" +
			"Amount: {{amount}} over {{months}} months, monthly {{monthly}}.\n" +
			"Fraud risk score: {{fraudRisk}}{{highRisk}}",
	},
	statemachine.EventApprove: {
		body: "Good news! Your loan application {{shortId}} for {{amount}} has been approved.",
	},
	statemachine.EventReject: {
		body: "Your loan application {{shortId}} was not approved. {{note}}",
	},
	statemachine.EventRequestDocuments: {
		body: "We need another document for loan application {{shortId}}. {{note}}",
	},
}

// Notifier is an orchestrator observer. Either client may be nil, which
// disables that channel.
type Notifier struct {
	cfg       Config
	ses       SESService
	sns       SNSService
	users     UserLookup
	countries *country.Table
	logger    logger.Logger
}

func NewNotifier(cfg Config, sesClient SESService, snsClient SNSService, users UserLookup, countries *country.Table, log logger.Logger) *Notifier {
	return &Notifier{
		cfg:       cfg,
		ses:       sesClient,
		sns:       snsClient,
		users:     users,
		countries: countries,
		logger:    log.WithFields(map[string]interface{}{"component": "notify"}),
	}
}

func (n *Notifier) ApplicationChanged(ctx context.Context, app *models.LoanApplication, event statemachine.Event) {
	tmpl, ok := templates[event]
	if !ok {
		return
	}
	data := n.templateData(app)

	var err error
	if event == statemachine.EventContractSigned {
		err = n.email(ctx, n.cfg.AdminEmail, renderTemplate(tmpl.subject, data), renderTemplate(tmpl.body, data))
	} else {
		err = n.smsUser(ctx, app.UserID, renderTemplate(tmpl.body, data))
	}
	if err != nil {
		n.logger.Warn("Notification not delivered", map[string]interface{}{
			"applicationId": app.ID,
			"event":         string(event),
			"error":         err.Error(),
		})
	}
}

// SendOTP texts a one-time code to an E.164 number.
func (n *Notifier) SendOTP(ctx context.Context, phone, code string) error {
	return n.sms(ctx, phone, fmt.Sprintf("Your verification code is %s. Do not share it with anyone.", code))
}

func (n *Notifier) templateData(app *models.LoanApplication) map[string]interface{} {
	symbol := ""
	if c, ok := n.countries.Lookup(app.Country); ok {
		symbol = c.Symbol + " "
	}
	shortID := app.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	data := map[string]interface{}{
		"applicationId": app.ID,
		"shortId":       shortID,
		"country":       string(app.Country),
		"amount":        fmt.Sprintf("%s%.2f", symbol, app.Amount),
		"months":        app.Months,
		"monthly":       fmt.Sprintf("%s%.2f", symbol, app.MonthlyPayment),
		"note":          app.DecisionNote,
	}
	if app.Document != nil {
		data["fraudRisk"] = fmt.Sprintf("%.0f", app.Document.FraudRiskScore)
	}
	if app.HighRisk() {
		data["highRisk"] = " (HIGH RISK)"
	}
	return data
}

func (n *Notifier) email(ctx context.Context, to, subject, body string) error {
	if n.ses == nil || to == "" {
		metrics.NotificationsSent.WithLabelValues(ChannelEmail, "disabled").Inc()
		return nil
	}
	if _, err := n.ses.SendEmail(ctx, awsclient.TextEmail(n.cfg.FromEmail, to, subject, body)); err != nil {
		metrics.NotificationsSent.WithLabelValues(ChannelEmail, "failed").Inc()
		return errors.NewNotificationSendFailedError(ChannelEmail, err)
	}
	metrics.NotificationsSent.WithLabelValues(ChannelEmail, "sent").Inc()
	return nil
}

func (n *Notifier) smsUser(ctx context.Context, userID, message string) error {
	if n.sns == nil {
		metrics.NotificationsSent.WithLabelValues(ChannelSMS, "disabled").Inc()
		return nil
	}
	user, err := n.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	phone := user.Mobile
	if c, ok := n.countries.Lookup(user.Country); ok {
		phone = c.InternationalNumber(user.Mobile)
	}
	return n.sms(ctx, phone, message)
}

func (n *Notifier) sms(ctx context.Context, phone, message string) error {
	if n.sns == nil {
		metrics.NotificationsSent.WithLabelValues(ChannelSMS, "disabled").Inc()
		return nil
	}
	if _, err := n.sns.Publish(ctx, awsclient.SMS(phone, message, n.cfg.SenderID)); err != nil {
		metrics.NotificationsSent.WithLabelValues(ChannelSMS, "failed").Inc()
		return errors.NewNotificationSendFailedError(ChannelSMS, err)
	}
	metrics.NotificationsSent.WithLabelValues(ChannelSMS, "sent").Inc()
	return nil
}

// renderTemplate replaces {{key}} placeholders and drops any left unfilled.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return strings.TrimSpace(result)
}
