package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names.
const (
	TemplateWelcome          = "welcome"
	TemplateVerification     = "verification"
	TemplateEventUpdate      = "event-update"
	TemplateRSVPConfirmation = "rsvp-confirmation"
	TemplateInvitation       = "invitation"
	TemplateRecurringCreated = "recurring-event-created"
	TemplateCommunityEvent   = "community-event-new"
	TemplateCommunityInvite  = "community-invite"
)

var templateNames = []string{
	TemplateWelcome,
	TemplateVerification,
	TemplateEventUpdate,
	TemplateRSVPConfirmation,
	TemplateInvitation,
	TemplateRecurringCreated,
	TemplateCommunityEvent,
	TemplateCommunityInvite,
}

type layoutData struct {
	AppName     string
	ClientURL   string
	CurrentYear int
	Data        any
}

// Renderer renders named templates inside the shared layout.
type Renderer struct {
	appName   string
	clientURL string
	pages     map[string]*template.Template
	now       func() time.Time
}

// NewRenderer parses every embedded template up front.
func NewRenderer(appName, clientURL string) (*Renderer, error) {
	r := &Renderer{
		appName:   appName,
		clientURL: clientURL,
		pages:     make(map[string]*template.Template, len(templateNames)),
		now:       time.Now,
	}
	for _, name := range templateNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Render executes the named template with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	t, ok := r.pages[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	err := t.ExecuteTemplate(&buf, "layout", layoutData{
		AppName:     r.appName,
		ClientURL:   r.clientURL,
		CurrentYear: r.now().Year(),
		Data:        data,
	})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
