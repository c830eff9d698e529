package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.resend.com"

// Mailer sends transactional email through the external email provider.
// Sends are best-effort: a failure is returned to the caller for logging and
// otherwise lost; there is no built-in retry, an operator resends manually.
type Mailer struct {
	apiKey      string
	apiBase     string
	fromAddress string
	fromName    string
	replyTo     string
	httpClient  *http.Client
	logger      *zap.Logger
}

func NewMailer(cfg *config.EmailConfig, logger *zap.Logger) *Mailer {
	return &Mailer{
		apiKey:      cfg.APIKey,
		apiBase:     defaultAPIBase,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		replyTo:     cfg.ReplyTo,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SendOrderConfirmation renders and sends the confirmation email for a paid
// order. The order's Items must be populated.
func (m *Mailer) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	html, err := renderConfirmation(order)
	if err != nil {
		return fmt.Errorf("failed to render confirmation email: %w", err)
	}

	payload := map[string]interface{}{
		"from":    fmt.Sprintf("%s <%s>", m.fromName, m.fromAddress),
		"to":      []string{order.CustomerEmail},
		"subject": fmt.Sprintf("Order Confirmation %s", order.OrderNumber),
		"html":    html,
	}
	if m.replyTo != "" {
		payload["reply_to"] = m.replyTo
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiBase+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("email provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		var provider struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		json.Unmarshal(data, &provider)
		return fmt.Errorf("email provider rejected send: status %d %s %s",
			resp.StatusCode, provider.Name, provider.Message)
	}

	m.logger.Info("Confirmation email sent",
		zap.String("order_number", order.OrderNumber),
		zap.String("to", order.CustomerEmail))
	return nil
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html>
  <head><meta charset="utf-8"><title>Order Confirmation</title></head>
  <body style="margin:0;padding:0;font-family:Arial,sans-serif;background-color:#f4f4f4;">
    <table role="presentation" style="width:600px;margin:0 auto;background-color:#ffffff;border-radius:8px;">
      <tr>
        <td style="padding:40px 30px;background-color:#4CAF50;text-align:center;">
          <h1 style="margin:0;color:#ffffff;font-size:28px;">Thank you for your purchase!</h1>
        </td>
      </tr>
      <tr>
        <td style="padding:30px;">
          <p style="margin:0 0 20px;color:#333;font-size:16px;">Hello <strong>{{.CustomerName}}</strong>,</p>
          <p style="margin:0 0 20px;color:#666;font-size:14px;">We received your order and are processing it. Here are the details:</p>
          <div style="background-color:#f8f8f8;padding:15px;border-radius:5px;margin-bottom:20px;">
            <p style="margin:0;color:#666;font-size:12px;">Order Number</p>
            <p style="margin:5px 0 0;color:#333;font-size:18px;font-weight:bold;">{{.OrderNumber}}</p>
          </div>
          <h2 style="margin:30px 0 15px;color:#333;font-size:18px;">Items</h2>
          <table role="presentation" style="width:100%;border-collapse:collapse;">
            {{range .Items}}
            <tr>
              <td style="padding:10px;border-bottom:1px solid #eee;">
                {{.ProductName}}<br>
                <small style="color:#666;">Color: {{.Color}} | Size: {{.Size}}</small>
              </td>
              <td style="padding:10px;border-bottom:1px solid #eee;text-align:center;">{{.Quantity}}</td>
              <td style="padding:10px;border-bottom:1px solid #eee;text-align:right;">${{printf "%.2f" .Price}}</td>
            </tr>
            {{end}}
          </table>
          <table role="presentation" style="width:100%;margin-top:20px;border-collapse:collapse;">
            <tr><td style="padding:8px;text-align:right;color:#666;">Subtotal:</td><td style="padding:8px;text-align:right;color:#333;font-weight:bold;width:100px;">${{printf "%.2f" .Subtotal}}</td></tr>
            <tr><td style="padding:8px;text-align:right;color:#666;">Shipping:</td><td style="padding:8px;text-align:right;color:#333;font-weight:bold;">${{printf "%.2f" .ShippingCost}}</td></tr>
            <tr><td style="padding:8px;text-align:right;color:#666;">Tax:</td><td style="padding:8px;text-align:right;color:#333;font-weight:bold;">${{printf "%.2f" .Tax}}</td></tr>
            <tr style="border-top:2px solid #4CAF50;"><td style="padding:12px 8px;text-align:right;color:#333;font-size:18px;font-weight:bold;">Total:</td><td style="padding:12px 8px;text-align:right;color:#4CAF50;font-size:18px;font-weight:bold;">${{printf "%.2f" .Total}}</td></tr>
          </table>
          <h2 style="margin:30px 0 15px;color:#333;font-size:18px;">Shipping Address</h2>
          <div style="background-color:#f8f8f8;padding:15px;border-radius:5px;">
            <p style="margin:0;color:#333;line-height:1.6;">
              {{.ShippingAddress}}<br>
              {{.ShippingCity}}, {{.ShippingState}} {{.ShippingZip}}
            </p>
          </div>
          <div style="margin-top:30px;padding:20px;background-color:#f0f9ff;border-left:4px solid #4CAF50;border-radius:5px;">
            <p style="margin:0;color:#666;font-size:14px;">You will be notified when your order ships.</p>
          </div>
        </td>
      </tr>
      <tr>
        <td style="padding:30px;background-color:#f8f8f8;text-align:center;">
          <p style="margin:0;color:#999;font-size:12px;">This is an automated message, please do not reply.</p>
        </td>
      </tr>
    </table>
  </body>
</html>`))

func renderConfirmation(order *models.Order) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, order); err != nil {
		return "", err
	}
	return buf.String(), nil
}
