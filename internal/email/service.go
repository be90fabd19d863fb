// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	boundary := "boundary-bloodlink"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type DecisionData struct {
	AppName      string
	DonorName    string
	HospitalName string
	BloodType    string
	RequestID    string
	Approved     bool
}

func decisionSubject(data DecisionData) string {
	if data.Approved {
		return fmt.Sprintf("You have been approved to donate at %s", data.HospitalName)
	}
	return fmt.Sprintf("Update on your %s donation offer", data.BloodType)
}

func decisionText(data DecisionData) string {
	if data.Approved {
		return fmt.Sprintf("Hi %s, %s approved your offer to donate %s blood for request %s. Please contact the hospital to arrange the donation.",
			data.DonorName, data.HospitalName, data.BloodType, data.RequestID)
	}
	return fmt.Sprintf("Hi %s, %s has chosen another donor for request %s. Thank you for responding.",
		data.DonorName, data.HospitalName, data.RequestID)
}

var decisionTmpl = template.Must(template.New("decision").Parse(decisionEmailTemplate))

func renderDecision(data DecisionData) (string, error) {
	var buf bytes.Buffer
	if err := decisionTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const decisionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}} donation update</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #b3001b; padding-bottom: 10px; margin-bottom: 20px; }
        .badge { display: inline-block; padding: 4px 10px; border-radius: 4px; background: #b3001b; color: white; font-weight: bold; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.DonorName}},</p>
{{if .Approved}}
    <p><strong>{{.HospitalName}}</strong> approved your offer to donate <span class="badge">{{.BloodType}}</span>.</p>
    <p>Please contact the hospital as soon as possible to arrange the donation.</p>
{{else}}
    <p><strong>{{.HospitalName}}</strong> has chosen another donor for this request.</p>
    <p>Thank you for responding. You will be alerted about the next {{.BloodType}} request.</p>
{{end}}
    <div class="footer">
        <p>Request reference: {{.RequestID}}</p>
    </div>
</body>
</html>`
