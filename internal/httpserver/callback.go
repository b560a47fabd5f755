package httpserver

import (
	"html/template"
	"net/http"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>{{.Title}}</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 2rem;">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .PaymentID}}<p>Payment ID: <code>{{.PaymentID}}</code></p>{{end}}
<p>You can close this page and return to WhatsApp.</p>
</body>
</html>
`))

type callbackView struct {
	Title     string
	Message   string
	PaymentID string
}

// paymentCallbackHandler renders the page customers land on after paying.
func paymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := callbackView{
		Title:     "Payment received",
		Message:   "Thank you! Your order will be confirmed on WhatsApp shortly.",
		PaymentID: q.Get("razorpay_payment_id"),
	}
	switch q.Get("razorpay_payment_link_status") {
	case "", "paid":
	default:
		view.Title = "Payment not completed"
		view.Message = "Your payment did not go through. You can retry from the link in WhatsApp."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := callbackPage.Execute(w, view); err != nil {
		http.Error(w, "failed to render page", http.StatusInternalServerError)
	}
}
