// internal/service/template_service.go
package service

import (
    "strings"

    "github.com/unclebandit/campaign-batcher/internal/mailer"
    "github.com/unclebandit/campaign-batcher/internal/model"
)

func RenderTemplate(template string, data map[string]string) string {
    result := template
    for k, v := range data {
        result = strings.ReplaceAll(result, "{"+k+"}", v)
    }
    return result
}

// ComposeBody places the signature at {signature} when the body has the
// placeholder, otherwise appends it below the body.
func ComposeBody(body, signature string) string {
    if strings.TrimSpace(signature) == "" {
        return RenderTemplate(body, map[string]string{"signature": ""})
    }
    if strings.Contains(body, "{signature}") {
        return RenderTemplate(body, map[string]string{"signature": signature})
    }
    return body + `<br><br><div class="signature">` + signature + `</div>`
}

// BuildBatchMessage renders the campaign content for one batch.
func BuildBatchMessage(c *model.Campaign, recipients []model.Recipient) mailer.BatchMessage {
    html, images := mailer.ExtractInlineImages(ComposeBody(c.BodyHTML, c.SignatureHTML))
    emails := make([]string, len(recipients))
    for i, r := range recipients {
        emails[i] = r.Email
    }
    return mailer.BatchMessage{
        Recipients: emails,
        Subject:    c.Subject,
        HTML:       html,
        Images:     images,
    }
}
