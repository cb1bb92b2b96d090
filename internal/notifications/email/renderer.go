package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"recoverly/internal/types"
)

//go:embed templates/notice.html
var templateFS embed.FS

// Placeholders recognised in tenant subject and body templates. Anything
// else in braces is left as written.
const (
	PlaceholderName        = "{name}"
	PlaceholderProductName = "{product_name}"
	PlaceholderAmount      = "{amount}"
	PlaceholderUpdateLink  = "{payment_update_link}"
)

// DefaultRecipientName is used when the payment carries no customer name.
const DefaultRecipientName = "Valued Customer"

// Message is a rendered notice ready for an EmailProvider.
type Message struct {
	Subject  string
	BodyText string
	BodyHTML string
}

// Vars are the values substituted into a template.
type Vars struct {
	Name              string
	ProductName       string
	Amount            string
	PaymentUpdateLink string
}

// VarsFor derives template values from a payment record, applying defaults
// for anything the provider did not send.
func VarsFor(p *types.PaymentRecord) Vars {
	v := Vars{
		Name:              DefaultRecipientName,
		ProductName:       types.DefaultProductName,
		Amount:            p.Amount.Major(),
		PaymentUpdateLink: types.DefaultUpdateLink,
	}
	if s := strings.TrimSpace(p.CustomerName); s != "" {
		v.Name = s
	}
	if s := strings.TrimSpace(p.ProductName); s != "" {
		v.ProductName = s
	}
	if s := strings.TrimSpace(p.InvoiceURL); s != "" {
		v.PaymentUpdateLink = s
	}
	return v
}

// Expand replaces every occurrence of each placeholder in tmpl.
func (v Vars) Expand(tmpl string) string {
	return strings.NewReplacer(
		PlaceholderName, v.Name,
		PlaceholderProductName, v.ProductName,
		PlaceholderAmount, v.Amount,
		PlaceholderUpdateLink, v.PaymentUpdateLink,
	).Replace(tmpl)
}

// Renderer produces the text and HTML forms of a notice. The plain text is
// the tenant's body with placeholders expanded. The HTML wraps the same text,
// escaped, in the embedded layout.
type Renderer struct {
	html *template.Template
}

// NewRenderer parses the embedded layout.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/notice.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse notice.html: %w", err)
	}
	return &Renderer{html: tmpl}, nil
}

type htmlData struct {
	Subject    string
	Paragraphs []string
	Link       string
}

// Render builds the notice for payment using tenant's templates, or the
// defaults when the tenant has none.
func (r *Renderer) Render(tenant *types.Tenant, payment *types.PaymentRecord) (Message, error) {
	v := VarsFor(payment)
	msg := Message{
		Subject:  v.Expand(tenant.Subject()),
		BodyText: v.Expand(tenant.Body()),
	}

	var buf bytes.Buffer
	if err := r.html.Execute(&buf, htmlData{
		Subject:    msg.Subject,
		Paragraphs: paragraphs(msg.BodyText),
		Link:       v.PaymentUpdateLink,
	}); err != nil {
		return Message{}, fmt.Errorf("renderer: failed to execute notice.html: %w", err)
	}
	msg.BodyHTML = buf.String()
	return msg, nil
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
