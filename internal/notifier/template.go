package notifier

import "html/template"

var approvalTemplate = template.Must(template.New("approval").Parse(`<div style="font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #2c3e50; font-size: 24px; border-bottom: 2px solid #eee; padding-bottom: 10px;">Email Response Review</h1>

  <div style="margin: 20px 0;">
    <h2 style="color: #34495e; font-size: 20px;">Original Email:</h2>
    <div style="background: #f9f9f9; padding: 15px; border-left: 4px solid #2980b9; margin-bottom: 20px;">
      <p style="margin: 0;"><strong>From:</strong> {{.Sender}}</p>
      <p style="margin: 5px 0;"><strong>Subject:</strong> {{.Subject}}</p>
      <div style="margin-top: 10px; white-space: pre-wrap; font-family: Arial, sans-serif;">{{.Original}}</div>
    </div>
  </div>

  <div style="margin: 20px 0;">
    <h2 style="color: #34495e; font-size: 20px;">AI Generated Response:</h2>
    <div style="background: #f5f5f5; padding: 15px; border-left: 4px solid #27ae60; margin-bottom: 20px;">
      <div style="white-space: pre-wrap; font-family: Arial, sans-serif;">{{.Draft}}</div>
    </div>
  </div>

  <div style="margin: 30px 0; text-align: center;">
    <p style="margin-bottom: 15px; font-weight: bold; color: #2c3e50;">Do you approve this response?</p>
    <a href="{{.ApprovalURL}}" rel="noreferrer" style="background: #27ae60; color: white; padding: 12px 25px; text-decoration: none; border-radius: 5px; font-weight: bold; display: inline-block;">&#10003; Approve and Send Response</a>
  </div>
</div>
`))

type approvalView struct {
	Sender      string
	Subject     string
	Original    string
	Draft       string
	ApprovalURL string
}
