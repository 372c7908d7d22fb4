package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

var verificationTmpl = template.Must(template.New("verification").Parse(`<h2>Welcome to {{.Product}}!</h2>
<p>Please click the link below to verify your email address:</p>
<a href="{{.Link}}" style="background-color: #007bff; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Verify Email</a>
<p>If you didn't create an account, please ignore this email.</p>
<p>This link will expire in {{.Expiry}}.</p>
`))

var resetTmpl = template.Must(template.New("reset").Parse(`<h2>Password Reset Request</h2>
<p>Click the link below to reset your password:</p>
<a href="{{.Link}}" style="background-color: #dc3545; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Reset Password</a>
<p>If you didn't request this reset, please ignore this email.</p>
<p>This link will expire in {{.Expiry}}.</p>
`))

// Templates renders the account emails with links into the frontend.
type Templates struct {
	FrontendURL string
	Product     string
}

func NewTemplates(frontendURL, product string) Templates {
	if frontendURL == "" {
		frontendURL = "http://localhost:3000"
	}
	if product == "" {
		product = "authcore"
	}
	return Templates{FrontendURL: strings.TrimRight(frontendURL, "/"), Product: product}
}

func (t Templates) Verification(to, token string) (Message, error) {
	body, err := t.render(verificationTmpl, "/verify-email", token, "1 hour")
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("Verify your %s account", t.Product), HTML: body}, nil
}

func (t Templates) PasswordReset(to, token string) (Message, error) {
	body, err := t.render(resetTmpl, "/reset-password", token, "1 hour")
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: fmt.Sprintf("Reset your %s password", t.Product), HTML: body}, nil
}

func (t Templates) render(tmpl *template.Template, path, token, expiry string) (string, error) {
	link := t.FrontendURL + path + "?token=" + url.QueryEscape(token)

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		Product string
		Link    string
		Expiry  string
	}{t.Product, link, expiry})
	if err != nil {
		return "", fmt.Errorf("render %s email: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
