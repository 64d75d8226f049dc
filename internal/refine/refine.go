// Package refine projects raw recent-change documents into RefinedEvents and
// enriches them from the wiki catalog.
package refine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tajhlande/listen-to-wiki-changes/internal/domain"
)

// KnownSchema is the recent-change schema this refiner was written against.
const KnownSchema = "/mediawiki/recentchange/1.0.0"

var (
	// ErrFiltered marks an event the pre-filter rejected. It is expected
	// for most of the feed and is not a failure.
	ErrFiltered         = errors.New("event filtered")
	ErrUnknownEventType = errors.New("unknown event type")
)

type Stage string

const (
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
)

// StageError reports which refinement stage rejected a payload.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

type rawEvent struct {
	Schema    string          `json:"$schema"`
	ID        json.RawMessage `json:"id"`
	Type      *string         `json:"type"`
	Namespace *int            `json:"namespace"`
	LogType   *string         `json:"log_type"`
	Meta      struct {
		Domain string `json:"domain"`
		URI    string `json:"uri"`
	} `json:"meta"`
	Title     string          `json:"title"`
	TitleURL  string          `json:"title_url"`
	Timestamp json.RawMessage `json:"timestamp"`
	User      string          `json:"user"`
	Bot       json.RawMessage `json:"bot"`
	Length    *struct {
		Old int64 `json:"old"`
		New int64 `json:"new"`
	} `json:"length"`
}

var emptyString = json.RawMessage(`""`)

type Refiner struct {
	catalog domain.Catalog
	newID   func() string

	// schemas already warned about
	schemas sync.Map
}

func New(catalog domain.Catalog) *Refiner {
	return &Refiner{
		catalog: catalog,
		newID:   uuid.NewString,
	}
}

// Refine decodes payload and returns the refined event. Apart from the
// fallback id for documents without one, the result depends only on the
// payload and the catalog.
func (r *Refiner) Refine(payload []byte) (domain.RefinedEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.RefinedEvent{}, &StageError{Stage: StageParse, Err: err}
	}

	if err := prefilter(&raw); err != nil {
		return domain.RefinedEvent{}, err
	}

	r.checkSchema(raw.Schema)

	ev := domain.RefinedEvent{
		ID:        raw.ID,
		Domain:    raw.Meta.Domain,
		EventType: classify(&raw),
		Title:     raw.Title,
		TitleURL:  raw.TitleURL,
		Timestamp: orEmpty(raw.Timestamp),
		User:      raw.User,
		Bot:       orEmpty(raw.Bot),
	}
	if isAbsent(ev.ID) {
		id, _ := json.Marshal(r.newID())
		ev.ID = id
	}
	if raw.Length != nil {
		ev.ChangeInLength = raw.Length.New - raw.Length.Old
	}
	if ev.EventType == domain.EventUnknown {
		return ev, fmt.Errorf("%w: %s", ErrUnknownEventType, *raw.Type)
	}

	r.enrich(&ev)
	return ev, nil
}

// prefilter keeps article edits, article creations and new-user log entries.
func prefilter(raw *rawEvent) error {
	if raw.Type == nil {
		return &StageError{Stage: StageValidate, Err: errors.New("missing type")}
	}

	switch typ := *raw.Type; typ {
	case "edit", "new":
		if raw.Namespace == nil {
			return &StageError{Stage: StageValidate, Err: fmt.Errorf("%s event without namespace", typ)}
		}
		if *raw.Namespace != 0 {
			return ErrFiltered
		}
		return nil
	case "log":
		if raw.LogType != nil && *raw.LogType == "newusers" {
			return nil
		}
		return ErrFiltered
	default:
		return ErrFiltered
	}
}

func classify(raw *rawEvent) domain.EventType {
	switch *raw.Type {
	case "log":
		if raw.LogType != nil && *raw.LogType == "newusers" {
			return domain.EventNewUser
		}
	case "new":
		return domain.EventNewPage
	case "edit":
		return domain.EventEdit
	}
	return domain.EventUnknown
}

func (r *Refiner) enrich(ev *domain.RefinedEvent) {
	code, ok := r.catalog.LookupByHostname(ev.Domain)
	if !ok {
		return
	}
	ev.Code = code

	meta, ok := r.catalog.Metadata(code)
	if !ok {
		slog.Debug("Catalog has hostname but no metadata", "domain", ev.Domain, "code", code)
		return
	}
	ev.WikiType = meta.Type
	ev.Language = meta.Language
	if ev.Language == "" {
		ev.Language = domain.LanguageMulti
	}
}

func (r *Refiner) checkSchema(schema string) {
	if schema == "" || schema == KnownSchema {
		return
	}
	if _, seen := r.schemas.LoadOrStore(schema, struct{}{}); !seen {
		slog.Warn("Upstream event schema changed", "schema", schema, "expected", KnownSchema)
	}
}

func isAbsent(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

func orEmpty(v json.RawMessage) json.RawMessage {
	if isAbsent(v) {
		return emptyString
	}
	return v
}
