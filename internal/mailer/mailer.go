// internal/mailer/mailer.go
package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/unclebandit/campaign-batcher/internal/model"
)

// InlineImage is an image referenced from the HTML body as cid:<ContentID>.
type InlineImage struct {
	ContentID   string
	ContentType string
	Filename    string
	Data        []byte
}

// BatchMessage is one outbound message addressed confidentially to every
// recipient of a batch. Recipients never see each other.
type BatchMessage struct {
	Recipients []string
	Subject    string
	HTML       string
	Images     []InlineImage
}

// Sender delivers a whole batch in a single provider call. There is no
// partial result: either every recipient was handed to the provider or the
// call failed. Implementations return appErrors.ErrAuthExpired (wrapped)
// when the credential was rejected.
type Sender interface {
	SendConfidentialBatch(ctx context.Context, cred *model.SenderCredential, msg BatchMessage) error
}

var dataURIImage = regexp.MustCompile(`src=["']data:(image/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=\s]+)["']`)

// ExtractInlineImages lifts base64 data URI images out of html and replaces
// them with cid: references. Malformed payloads are left in place.
func ExtractInlineImages(html string) (string, []InlineImage) {
	images := []InlineImage{}
	out := dataURIImage.ReplaceAllStringFunc(html, func(match string) string {
		parts := dataURIImage.FindStringSubmatch(match)
		payload := strings.Join(strings.Fields(parts[2]), "")
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return match
		}
		n := len(images) + 1
		img := InlineImage{
			ContentID:   fmt.Sprintf("inline-image-%d", n),
			ContentType: parts[1],
			Filename:    fmt.Sprintf("image-%d.%s", n, extension(parts[1])),
			Data:        data,
		}
		images = append(images, img)
		return fmt.Sprintf(`src="cid:%s"`, img.ContentID)
	})
	return out, images
}

// InlinedHTML puts the images back as data URIs, for transports without
// content-id attachments.
func (m BatchMessage) InlinedHTML() string {
	html := m.HTML
	for _, img := range m.Images {
		uri := fmt.Sprintf("data:%s;base64,%s", img.ContentType, base64.StdEncoding.EncodeToString(img.Data))
		html = strings.ReplaceAll(html, "cid:"+img.ContentID, uri)
	}
	return html
}

func extension(contentType string) string {
	ext := strings.TrimPrefix(contentType, "image/")
	switch ext {
	case "jpeg":
		return "jpg"
	case "svg+xml":
		return "svg"
	}
	return ext
}

func senderAddress(cred *model.SenderCredential) string {
	if cred.FromName == "" {
		return cred.OwnerEmail
	}
	return fmt.Sprintf("%s <%s>", cred.FromName, cred.OwnerEmail)
}
