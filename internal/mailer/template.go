package mailer

import (
	"bytes"
	"html/template"
	"time"
)

const codeValidMinutes = 5

var verificationTmpl = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Verification</title>
<style>
body { margin: 0; padding: 0; background-color: #f4f7f6; font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; }
.email-container { max-width: 600px; margin: 20px auto; background-color: #ffffff; border-radius: 8px; overflow: hidden; border: 1px solid #e1e4e8; }
.email-header { background-color: #007bff; background-image: linear-gradient(135deg, #007bff 0%, #0056b3 100%); color: #ffffff; padding: 30px 20px; text-align: center; }
.email-header h1 { margin: 0; font-size: 24px; font-weight: 600; letter-spacing: 1px; }
.email-body { padding: 40px 30px; color: #333333; line-height: 1.8; font-size: 16px; }
.verification-code { display: block; width: fit-content; margin: 30px auto; padding: 15px 40px; background-color: #f8f9fa; border: 2px dashed #007bff; border-radius: 6px; font-size: 32px; font-weight: bold; color: #007bff; letter-spacing: 8px; text-align: center; }
.info-box { background-color: #eaf4ff; border-left: 4px solid #007bff; padding: 15px; margin: 20px 0; color: #004085; font-size: 14px; }
.email-footer { background-color: #f8f9fa; padding: 20px; text-align: center; border-top: 1px solid #eeeeee; color: #888888; font-size: 12px; }
</style>
</head>
<body>
<div class="email-container">
  <div class="email-header"><h1>Security Verification</h1></div>
  <div class="email-body">
    <p>Your verification code is:</p>
    <span class="verification-code">{{.Code}}</span>
    <div class="info-box">
      This code expires in {{.ValidMinutes}} minutes. If you did not request it, you can safely ignore this email.
    </div>
  </div>
  <div class="email-footer">
    <p>&copy; {{.Year}} Student Check-in System</p>
    <p>This is an automated message; please do not reply.</p>
  </div>
</div>
</body>
</html>`))

func renderVerificationHTML(code string) (string, error) {
	var buf bytes.Buffer
	err := verificationTmpl.Execute(&buf, struct {
		Code         string
		ValidMinutes int
		Year         int
	}{code, codeValidMinutes, time.Now().Year()})
	return buf.String(), err
}
