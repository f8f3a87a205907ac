package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

const buttonStyle = `display: inline-block; padding: 10px 20px; background-color: #007bff; color: white; text-decoration: none; border-radius: 5px;`

var templates = template.Must(template.New("email").Parse(`
{{define "activation"}}
<h2>Welcome to Shopfront, {{.FirstName}}!</h2>
<p>Thank you for registering. Please click the link below to activate your account:</p>
<a href="{{.URL}}" style="` + buttonStyle + `">Activate Account</a>
<p>This link will expire in {{.Expiry}}.</p>
<p>If you didn't create an account, please ignore this email.</p>
{{end}}

{{define "reset"}}
<h2>Password Reset Request</h2>
<p>Hi {{.FirstName}},</p>
<p>You requested to reset your password. Click the link below to reset it:</p>
<a href="{{.URL}}" style="` + buttonStyle + `">Reset Password</a>
<p>This link will expire in {{.Expiry}}.</p>
<p>If you didn't request a password reset, please ignore this email.</p>
{{end}}

{{define "order_confirmation"}}
<h2>Order Confirmation</h2>
<p>Hi {{.FirstName}},</p>
<p>Thank you for your order! Your order has been received and is being processed.</p>
<p><strong>Order ID:</strong> {{.Order.ID}}</p>
<ul>
{{range .Order.Items}}<li>{{.Quantity}} x {{.Title}} @ ${{printf "%.2f" .Price}}</li>
{{end}}</ul>
<p><strong>Total Amount:</strong> ${{printf "%.2f" .Order.TotalPrice}}</p>
<p><strong>Status:</strong> {{.Order.Status}}</p>
<p>You can track your order status in your account.</p>
{{end}}

{{define "order_status"}}
<h2>Order Status Update</h2>
<p>Hi {{.FirstName}},</p>
<p>Your order status has been updated.</p>
<p><strong>Order ID:</strong> {{.Order.ID}}</p>
<p><strong>New Status:</strong> {{.Order.Status}}</p>
<p>You can track your order in your account.</p>
{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", name, err)
	}
	return buf.String(), nil
}
