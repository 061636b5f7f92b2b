package notification

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Template ids for the built-in messages.
const (
	TplAppointmentCreated    = "appointment-created"
	TplAppointmentUpdated    = "appointment-updated"
	TplAppointmentConfirmed  = "appointment-confirmed"
	TplAppointmentCancelled  = "appointment-cancelled"
	TplAppointmentCompleted  = "appointment-completed"
	TplDiagnosisOpened       = "diagnosis-opened"
	TplDiagnosisUpdated      = "diagnosis-updated"
	TplDiagnosisCompleted    = "diagnosis-completed"
	TplLabResultCompleted    = "lab-result-completed"
	TplPrescriptionDispensed = "prescription-dispensed"
)

// Template is a message body with {{key}} placeholders.
type Template struct {
	ID   string
	Type Type
	Body string
}

// TemplateEngine renders notification messages.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{ID: TplAppointmentCreated, Type: TypeAppointment,
			Body: "A new appointment on {{date}} was booked by {{actor}}. Reason: {{reason}}"},
		{ID: TplAppointmentUpdated, Type: TypeAppointment,
			Body: "Your appointment on {{date}} was changed by {{actor}} and needs your confirmation. {{update_reason}}"},
		{ID: TplAppointmentConfirmed, Type: TypeAppointment,
			Body: "The appointment on {{date}} was confirmed by {{actor}}."},
		{ID: TplAppointmentCancelled, Type: TypeAppointment,
			Body: "The appointment on {{date}} was cancelled by {{actor}}. Reason: {{reason}}"},
		{ID: TplAppointmentCompleted, Type: TypeAppointment,
			Body: "Your appointment on {{date}} has been completed."},
		{ID: TplDiagnosisOpened, Type: TypeDiagnosis,
			Body: "A diagnosis record was opened for you by {{actor}}."},
		{ID: TplDiagnosisUpdated, Type: TypeDiagnosis,
			Body: "Your diagnosis record was updated by {{actor}}."},
		{ID: TplDiagnosisCompleted, Type: TypeDiagnosis,
			Body: "Your diagnosis record has been completed."},
		{ID: TplLabResultCompleted, Type: TypeLabResult,
			Body: "The {{test}} lab result for diagnosis {{diagnosis}} is ready."},
		{ID: TplPrescriptionDispensed, Type: TypePrescription,
			Body: "Prescription {{drug}} has been dispensed."},
	}
	for _, t := range builtIn {
		e.RegisterTemplate(t)
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Type, string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", data[k])
	}
	// Single pass: substituted values are never scanned again.
	body := strings.NewReplacer(pairs...).Replace(t.Body)
	return t.Type, strings.TrimSpace(body), nil
}

// Event renders templateID into an Event ready for Dispatch. An unknown
// template yields the id itself as the message.
func (e *TemplateEngine) Event(templateID string, data map[string]string, initiator, eventID uuid.UUID, recipients []uuid.UUID) Event {
	typ, msg, err := e.Render(templateID, data)
	if err != nil {
		msg = templateID
	}
	return Event{
		Type:         typ,
		Message:      msg,
		InitiatorID:  initiator,
		RecipientIDs: recipients,
		EventID:      eventID,
	}
}
