// Package feedback renders pipeline state as short localized messages.
package feedback

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"genpipe/internal/domain"
	"genpipe/internal/resilient"
)

// Message keys; the English text doubles as the key.
const (
	keySending      = "Sending request…"
	keyRetryingNth  = "Retrying (attempt %d of %d)…"
	keyRetryIn      = "Request failed, retrying in %v (attempt %d of %d)"
	keyDone         = "Done"
	keyAlreadyDone  = "Already done"
	keyGaveUp       = "Gave up: %s"
	keyNotStarted   = "Not started"
	keyStarting     = "Starting generation…"
	keyGenerating   = "Generating: %s (%.0f%%)"
	keyGeneratingNo = "Generating (%.0f%%)"
	keyComplete     = "Generation complete"
	keyGenFailed    = "Generation failed: %s"
	keyTimeout      = "Request timed out"
	keyUnreachable  = "Could not reach the server"
	keyServer       = "The server is having trouble, please try again later"
)

var indonesian = map[string]string{
	keySending:      "Mengirim permintaan…",
	keyRetryingNth:  "Mencoba lagi (percobaan %d dari %d)…",
	keyRetryIn:      "Permintaan gagal, mencoba lagi dalam %v (percobaan %d dari %d)",
	keyDone:         "Selesai",
	keyAlreadyDone:  "Sudah dilakukan sebelumnya",
	keyGaveUp:       "Dihentikan: %s",
	keyNotStarted:   "Belum dimulai",
	keyStarting:     "Memulai pembuatan…",
	keyGenerating:   "Sedang membuat: %s (%.0f%%)",
	keyGeneratingNo: "Sedang membuat (%.0f%%)",
	keyComplete:     "Pembuatan selesai",
	keyGenFailed:    "Pembuatan gagal: %s",
	keyTimeout:      "Permintaan melewati batas waktu",
	keyUnreachable:  "Tidak dapat menghubungi server",
	keyServer:       "Server sedang bermasalah, silakan coba lagi nanti",
}

var (
	supported = []language.Tag{language.English, language.Indonesian}
	matcher   = language.NewMatcher(supported)
	cat       = buildCatalog()
)

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for id, text := range indonesian {
		_ = b.SetString(language.English, id, id)
		_ = b.SetString(language.Indonesian, id, text)
	}
	return b
}

// Match picks the supported locale ("en" or "id") best matching an
// Accept-Language value or a bare tag. Empty or unknown input yields fallback
// when it is supported, else "en".
func Match(accept, fallback string) string {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err == nil && len(tags) > 0 {
		if _, idx, conf := matcher.Match(tags...); conf != language.No {
			base, _ := supported[idx].Base()
			return base.String()
		}
	}
	if fallback != "" {
		return Match(fallback, "")
	}
	return "en"
}

// Printer formats messages for one locale.
type Printer struct {
	locale string
	p      *message.Printer
}

// For returns a printer for locale, an Accept-Language value or a tag.
func For(locale string) *Printer {
	loc := Match(locale, "en")
	return &Printer{locale: loc, p: message.NewPrinter(language.Make(loc), message.Catalog(cat))}
}

// Locale returns "en" or "id".
func (p *Printer) Locale() string {
	return p.locale
}

// Status describes an executor status.
func (p *Printer) Status(s resilient.Status) string {
	switch s.State {
	case resilient.StateAttempting:
		if s.Attempt <= 1 {
			return p.p.Sprintf(keySending)
		}
		return p.p.Sprintf(keyRetryingNth, s.Attempt, s.MaxAttempts)
	case resilient.StateRetrying:
		return p.p.Sprintf(keyRetryIn, s.Delay, s.Attempt+1, s.MaxAttempts)
	case resilient.StateSucceeded:
		if s.AlreadyDone {
			return p.p.Sprintf(keyAlreadyDone)
		}
		return p.p.Sprintf(keyDone)
	case resilient.StateFailed:
		return p.p.Sprintf(keyGaveUp, p.Error(s.Err))
	default:
		return ""
	}
}

// Job describes a generation job snapshot.
func (p *Printer) Job(j domain.Job) string {
	switch j.Phase {
	case domain.PhaseInitializing:
		return p.p.Sprintf(keyStarting)
	case domain.PhaseStreaming:
		if msg := strings.TrimSpace(j.Message); msg != "" {
			return p.p.Sprintf(keyGenerating, msg, j.Progress)
		}
		return p.p.Sprintf(keyGeneratingNo, j.Progress)
	case domain.PhaseComplete:
		return p.p.Sprintf(keyComplete)
	case domain.PhaseError:
		return p.p.Sprintf(keyGenFailed, j.Error)
	default:
		return p.p.Sprintf(keyNotStarted)
	}
}

// Error turns a failure into a sentence for end users.
func (p *Printer) Error(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, domain.ErrTimeout) {
		return p.p.Sprintf(keyTimeout)
	}
	switch domain.Classify(err) {
	case domain.ClassTransport:
		return p.p.Sprintf(keyUnreachable)
	case domain.ClassServer:
		return p.p.Sprintf(keyServer)
	default:
		return domain.HumanMessage(err)
	}
}
