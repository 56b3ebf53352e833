package identity

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultTemplate is used when no template is configured.
const DefaultTemplate = "$######"

// MaxAttempts bounds MakeUnique retries.
const MaxAttempts = 100

const (
	digits  = "0123456789"
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ErrGenerationExhausted is matched by every GenerationExhaustedError.
var ErrGenerationExhausted = errors.New("could not generate a unique identifier")

// GenerationExhaustedError reports a template whose space ran out.
type GenerationExhaustedError struct {
	Template      string
	LastCandidate string
	Attempts      int
}

func (e *GenerationExhaustedError) Error() string {
	return fmt.Sprintf("%v: template %q, last candidate %q after %d attempts",
		ErrGenerationExhausted, e.Template, e.LastCandidate, e.Attempts)
}

func (e *GenerationExhaustedError) Unwrap() error { return ErrGenerationExhausted }

// Generate expands template left to right:
//
//	#  random digit
//	?  random uppercase letter
//	*  random digit or letter (digits 10/36 of the time)
//	%  emit the next template character literally
//
// Any other character is copied as is.
func Generate(template string, rnd *rand.Rand) string {
	var sb strings.Builder
	sb.Grow(len(template))

	for i := 0; i < len(template); i++ {
		switch c := template[i]; c {
		case '#':
			sb.WriteByte(digits[rnd.IntN(len(digits))])
		case '?':
			sb.WriteByte(letters[rnd.IntN(len(letters))])
		case '*':
			n := rnd.IntN(len(digits) + len(letters))
			if n < len(digits) {
				sb.WriteByte(digits[n])
			} else {
				sb.WriteByte(letters[n-len(digits)])
			}
		case '%':
			i++
			if i < len(template) {
				sb.WriteByte(template[i])
			}
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String()
}

// Generator issues template-driven identifiers that are unique for its
// lifetime. It is not safe for concurrent use; callers hold their own lock.
type Generator struct {
	template string
	rnd      *rand.Rand
	issued   map[string]struct{}
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand sets the random source, mainly for deterministic tests.
func WithRand(rnd *rand.Rand) Option {
	return func(g *Generator) { g.rnd = rnd }
}

// NewGenerator creates a generator for template (DefaultTemplate if empty).
func NewGenerator(template string, opts ...Option) *Generator {
	g := &Generator{
		template: DefaultTemplate,
		issued:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rnd == nil {
		g.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	g.SetTemplate(template)
	return g
}

// SetTemplate replaces the active template. Empty templates are ignored.
func (g *Generator) SetTemplate(template string) {
	if template == "" {
		return
	}
	g.template = template
}

// Template returns the active template.
func (g *Generator) Template() string { return g.template }

// Generate expands the active template once, without a uniqueness check.
func (g *Generator) Generate() string {
	return Generate(g.template, g.rnd)
}

// MakeUnique returns an identifier not issued before and records it.
func (g *Generator) MakeUnique() (string, error) {
	var candidate string
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		candidate = g.Generate()
		if _, taken := g.issued[candidate]; !taken {
			g.issued[candidate] = struct{}{}
			return candidate, nil
		}
	}
	return "", &GenerationExhaustedError{
		Template:      g.template,
		LastCandidate: candidate,
		Attempts:      MaxAttempts,
	}
}

// Reserve marks id as issued. It reports false if it already was.
func (g *Generator) Reserve(id string) bool {
	if _, taken := g.issued[id]; taken {
		return false
	}
	g.issued[id] = struct{}{}
	return true
}

// Issued reports whether id has been handed out or reserved.
func (g *Generator) Issued(id string) bool {
	_, ok := g.issued[id]
	return ok
}

// Len returns the number of issued identifiers.
func (g *Generator) Len() int { return len(g.issued) }

// Reset forgets every issued identifier.
func (g *Generator) Reset() {
	g.issued = make(map[string]struct{})
}
