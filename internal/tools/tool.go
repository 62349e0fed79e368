// Package tools is the closed catalog of operations the admin agent may
// invoke. Every tool is a typed handler behind a declared JSON schema; model
// arguments are validated before any side effect happens.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/adminpilot/control-plane/internal/integrations"
	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/go-playground/validator/v10"
)

// Declaration describes a tool to the model and to the executor.
type Declaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`

	// Destructive marks tools whose effect cannot be undone.
	Destructive bool `json:"destructive"`

	// ReadOnly tools are never audited.
	ReadOnly bool `json:"readOnly"`
}

// Tool is a registered catalog entry. The interface is sealed: only this
// package can implement it.
type Tool interface {
	Declaration() Declaration

	// Bind validates raw model arguments and returns a ready-to-run call.
	// A *ValidationError is returned when the arguments are rejected.
	Bind(raw json.RawMessage) (Call, error)

	// compile prepares the parameter schema for validation. Called once by
	// the registry; it also seals the interface to this package.
	compile() error
}

// Call is a validated invocation of one tool.
type Call interface {
	// Target is the record the call will act on, when known up front.
	Target() models.Target

	// Describe is a short human-readable account of what the call will do.
	Describe() string

	Run(ctx context.Context, env *Env) (Outcome, error)
}

// Outcome is what a handler returns on success.
type Outcome struct {
	Data   any
	Target models.Target
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, msg integrations.EmailMessage) (*integrations.Delivery, error)
}

// Messenger sends outbound WhatsApp messages.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (*integrations.Delivery, error)
}

// WebhookSender posts signed events to external endpoints.
type WebhookSender interface {
	Post(ctx context.Context, url, event string, payload any) (*integrations.Delivery, error)
}

// Exporter uploads generated files to object storage.
type Exporter interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (*integrations.ExportObject, error)
}

// Env carries the dependencies handlers run against.
type Env struct {
	Store     store.Store
	Mailer    Mailer
	Messenger Messenger
	Webhooks  WebhookSender
	Exporter  Exporter
	Now       func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// ValidationError reports arguments that do not satisfy a tool's declaration.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// ── typed tools ─────────────────────────────────────────────

// typedTool binds a declaration to a handler over a typed argument struct.
type typedTool[A any] struct {
	decl     Declaration
	params   *compiledSchema
	target   func(A) models.Target
	describe func(A) string
	run      func(ctx context.Context, env *Env, args A) (Outcome, error)
}

func (t *typedTool[A]) Declaration() Declaration { return t.decl }

func (t *typedTool[A]) compile() error {
	c, err := compileSchema(t.decl.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s: parameters: %w", t.decl.Name, err)
	}
	t.params = c
	return nil
}

func (t *typedTool[A]) Bind(raw json.RawMessage) (Call, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	if problems := t.params.check(raw); len(problems) > 0 {
		return nil, &ValidationError{Tool: t.decl.Name, Problems: problems}
	}

	var args A
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &ValidationError{Tool: t.decl.Name, Problems: []string{err.Error()}}
	}
	if err := validate.Struct(&args); err != nil {
		return nil, &ValidationError{Tool: t.decl.Name, Problems: describeValidation(err)}
	}
	return &boundCall[A]{tool: t, args: args}, nil
}

type boundCall[A any] struct {
	tool *typedTool[A]
	args A
}

func (c *boundCall[A]) Target() models.Target {
	if c.tool.target == nil {
		return models.Target{}
	}
	return c.tool.target(c.args)
}

func (c *boundCall[A]) Describe() string {
	if c.tool.describe != nil {
		return c.tool.describe(c.args)
	}
	return strings.ReplaceAll(c.tool.decl.Name, "_", " ")
}

func (c *boundCall[A]) Run(ctx context.Context, env *Env) (Outcome, error) {
	out, err := c.tool.run(ctx, env, c.args)
	if out.Target == (models.Target{}) {
		out.Target = c.Target()
	}
	return out, err
}

// ── struct validation ───────────────────────────────────────

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// condition: an expr-lang expression that evaluates to a boolean.
	_ = v.RegisterValidation("condition", func(fl validator.FieldLevel) bool {
		src := fl.Field().String()
		if strings.TrimSpace(src) == "" {
			return true
		}
		_, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
		return err == nil
	})
	return v
}

func describeValidation(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldProblem(fe))
	}
	return out
}

func fieldProblem(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + ": is required"
	case "required_without":
		return fmt.Sprintf("%s: is required when %s is not given", field, jsonName(fe.Param()))
	case "email":
		return field + ": must be a valid email address"
	case "e164":
		return field + ": must be an E.164 phone number such as +15551234567"
	case "url":
		return field + ": must be a valid URL"
	case "startswith":
		return fmt.Sprintf("%s: must start with %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s: must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s", field, fe.Param())
	case "condition":
		return field + ": is not a valid boolean condition"
	case "datetime":
		return field + ": must be an RFC 3339 timestamp"
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}

// jsonName maps a Go field name from a validator param to snake case.
func jsonName(goName string) string {
	var b strings.Builder
	var prev rune
	for i, r := range goName {
		if i > 0 && r >= 'A' && r <= 'Z' && prev >= 'a' && prev <= 'z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
		prev = r
	}
	return strings.ToLower(b.String())
}
