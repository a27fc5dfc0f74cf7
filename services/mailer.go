package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"paper-scout/config"
	"paper-scout/models"
)

// alertMailTemplate rendert die HTML-Benachrichtigung über neue Treffer.
var alertMailTemplate = template.Must(template.New("alert").Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h1 style="color: #2c3e50;">New Papers Alert</h1>
  <p>We found {{.Count}} new papers matching your saved search: <strong>{{.SearchName}}</strong></p>
  {{range .Papers}}
  <div style="margin-bottom: 20px; padding: 15px; border: 1px solid #eee; border-radius: 5px;">
    <h3 style="margin-top: 0;"><a href="{{.URL}}" style="color: #2980b9;">{{.Title}}</a></h3>
    {{if .Authors}}<p style="color: #7f8c8d; margin: 5px 0;">{{.Authors}}</p>{{end}}
    <p style="margin: 5px 0;"><span style="background: #ecf0f1; padding: 2px 6px; border-radius: 3px; font-size: 12px;">{{.Source}}</span></p>
    {{if .Abstract}}<p style="margin: 10px 0 0;">{{.Abstract}}</p>{{end}}
  </div>
  {{end}}
  <p style="margin-top: 30px;">
    <a href="{{.BaseURL}}/new_papers" style="background: #2980b9; color: #fff; padding: 10px 20px; text-decoration: none; border-radius: 5px;">View All New Papers</a>
  </p>
  <p style="color: #95a5a6; font-size: 12px; margin-top: 30px;">
    You are receiving this email because you enabled notifications for this saved search.
    Manage your searches at <a href="{{.BaseURL}}/saved_searches">{{.BaseURL}}/saved_searches</a>.
  </p>
</body>
</html>`))

type alertMailData struct {
	SearchName string
	Count      int
	Papers     []alertMailPaper
	BaseURL    string
}

type alertMailPaper struct {
	Title    string
	URL      string
	Authors  string
	Source   string
	Abstract string
}

// Mailer verschickt Benachrichtigungen über SMTP.
type Mailer struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewMailer erstellt eine neue Instanz des Mailers.
func NewMailer(cfg *config.Config, logger *zap.Logger) *Mailer {
	return &Mailer{Config: cfg, Logger: logger}
}

// SendNewPapers verschickt die Benachrichtigung über neue Treffer einer
// gespeicherten Suche an deren hinterlegte Adresse.
func (m *Mailer) SendNewPapers(search *models.SavedSearch, results []*models.SearchResult) error {
	body, err := m.renderAlertBody(search, results)
	if err != nil {
		return fmt.Errorf("mail-template rendern: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.Config.MailFrom)
	msg.SetHeader("To", search.NotifyEmail)
	msg.SetHeader("Subject", fmt.Sprintf("New papers found for '%s'", search.Name))
	msg.SetBody("text/html", body)

	dialer := gomail.NewDialer(m.Config.MailHost, m.Config.MailPort, m.Config.MailUsername, m.Config.MailPassword)
	return dialer.DialAndSend(msg)
}

// SendTest verschickt eine Testmail, um die SMTP-Konfiguration zu prüfen.
func (m *Mailer) SendTest(to string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.Config.MailFrom)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Test Email from Academic Search Portal")
	msg.SetBody("text/html", "<p>This is a test email to confirm your notification settings are working.</p>")

	dialer := gomail.NewDialer(m.Config.MailHost, m.Config.MailPort, m.Config.MailUsername, m.Config.MailPassword)
	return dialer.DialAndSend(msg)
}

func (m *Mailer) renderAlertBody(search *models.SavedSearch, results []*models.SearchResult) (string, error) {
	data := alertMailData{
		SearchName: search.Name,
		Count:      len(results),
		BaseURL:    strings.TrimRight(m.Config.AppBaseURL, "/"),
	}
	for _, r := range results {
		data.Papers = append(data.Papers, alertMailPaper{
			Title:    r.Title,
			URL:      r.URL,
			Authors:  r.Authors,
			Source:   strings.ToUpper(r.Source),
			Abstract: truncateAbstract(r.Abstract, 300),
		})
	}

	var buf bytes.Buffer
	if err := alertMailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// truncateAbstract kürzt lange Abstracts für die Mail-Darstellung.
func truncateAbstract(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
