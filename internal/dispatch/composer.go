package dispatch

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/brensch/zipmailer/internal/util"
)

// TemplateData is what subject and body templates can reference.
type TemplateData struct {
	Destination   string
	Location      string // Same as Destination
	Footer        string
	Part          string // "2/5"
	PartOrdinal   int
	PartTotal     int
	DocumentCount int
	FileName      string
	Recipients    []string
}

// Composer renders message text from templates.
type Composer struct {
	subject *template.Template
	body    *template.Template
	html    *template.Template
	footer  string
}

// NewComposer parses the templates. body or html may be empty but not both;
// when body is empty the plain-text part is derived from the rendered HTML.
func NewComposer(subject, body, html, footer string) (*Composer, error) {
	if strings.TrimSpace(body) == "" && strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("a text or html body template is required")
	}
	c := &Composer{footer: footer}
	var err error
	if c.subject, err = template.New("subject").Parse(subject); err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	if body != "" {
		if c.body, err = template.New("body").Parse(body); err != nil {
			return nil, fmt.Errorf("parse body template: %w", err)
		}
	}
	if html != "" {
		if c.html, err = template.New("html").Parse(html); err != nil {
			return nil, fmt.Errorf("parse html template: %w", err)
		}
	}
	return c, nil
}

// Compose renders a message for job without recipients or attachments.
func (c *Composer) Compose(job Job) (Message, error) {
	data := TemplateData{
		Destination:   job.Destination,
		Location:      job.Destination,
		Footer:        c.footer,
		Part:          job.Part(),
		PartOrdinal:   job.PartOrdinal,
		PartTotal:     job.PartTotal,
		DocumentCount: job.DocCount,
		FileName:      job.FileName,
		Recipients:    job.Recipients,
	}

	var msg Message
	var err error
	if msg.Subject, err = render(c.subject, data); err != nil {
		return Message{}, err
	}
	msg.Subject = strings.TrimSpace(strings.ReplaceAll(msg.Subject, "\n", " "))
	if c.html != nil {
		if msg.HTML, err = render(c.html, data); err != nil {
			return Message{}, err
		}
	}
	if c.body != nil {
		if msg.Body, err = render(c.body, data); err != nil {
			return Message{}, err
		}
	} else {
		msg.Body = util.HTMLToText(msg.HTML)
	}
	return msg, nil
}

func render(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}
