package alert

import "net/smtp"

// SetSendMailForTest swaps the SMTP send function so tests can observe the
// composed message without a real server.
func SetSendMailForTest(ch *EmailChannel, fn func(addr string, a smtp.Auth, from string, to []string, msg []byte) error) {
	ch.sendMail = fn
}
