package model

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	pkgerrors "github.com/pkg/errors"
)

const (
	FieldDate = "Fecha"
	FieldUser = "Usuario"

	suffixPast = " (Pasado)"
	suffixNow  = " (Ahora)"
	suffixDiff = " (Diferencia)"

	DateLayout = "02/01/2006, 15:04:05"
)

func PastField(category string) string { return category + suffixPast }
func NowField(category string) string  { return category + suffixNow }
func DiffField(category string) string { return category + suffixDiff }

// Payload is the flat field->value mapping pushed to the spreadsheet.
// Fields keep their insertion order, which is also the JSON order.
type Payload struct {
	keys   []string
	values map[string]any
}

func NewPayload() *Payload {
	return &Payload{values: map[string]any{}}
}

func (p *Payload) Set(key string, value any) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *Payload) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Int returns an integer field, if present.
func (p *Payload) Int(key string) (int, bool) {
	v, ok := p.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

func (p *Payload) String(key string) string {
	v, _ := p.Get(key)
	s, _ := v.(string)
	return s
}

func (p *Payload) Keys() []string {
	return append([]string(nil), p.keys...)
}

func (p *Payload) Len() int {
	return len(p.keys)
}

func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "payload key")
		}
		val, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "payload field %q", k)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object back, keeping the field order.
// Values must be scalars. Whole numbers come back as int, so Int works on
// decoded payloads.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return pkgerrors.Wrap(err, "payload")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return pkgerrors.Errorf("payload: expected an object, got %v", tok)
	}

	*p = *NewPayload()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return pkgerrors.Wrap(err, "payload key")
		}
		key, ok := tok.(string)
		if !ok {
			return pkgerrors.Errorf("payload: unexpected key %v", tok)
		}

		v, err := dec.Token()
		if err != nil {
			return pkgerrors.Wrapf(err, "payload field %q", key)
		}
		switch v := v.(type) {
		case json.Delim:
			return pkgerrors.Errorf("payload field %q: nested %v", key, v)
		case json.Number:
			p.Set(key, number(v))
		default:
			p.Set(key, v)
		}
	}

	_, err = dec.Token()
	return pkgerrors.Wrap(err, "payload")
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// BuildPayload flattens the answers of a submission. Questions missing either
// phase are left out.
func BuildPayload(questions []Question, answers map[string]int, user string, at time.Time) *Payload {
	p := NewPayload()
	p.Set(FieldDate, at.Format(DateLayout))
	p.Set(FieldUser, user)

	for _, q := range questions {
		past, okPast := answers[ResponseKey(PhasePast, q.ID)]
		now, okNow := answers[ResponseKey(PhaseNow, q.ID)]
		if !okPast || !okNow {
			continue
		}
		p.Set(PastField(q.Category), past)
		p.Set(NowField(q.Category), now)
		p.Set(DiffField(q.Category), now-past)
	}
	return p
}

// SlotsFor maps the payload fields of the first MaxSlots questions onto
// record slots, in question order.
func SlotsFor(questions []Question, p *Payload) (slots [MaxSlots]Slot) {
	for i, q := range questions {
		if i == MaxSlots {
			break
		}
		s := Slot{Category: q.Category}
		if v, ok := p.Int(PastField(q.Category)); ok {
			s.Past = &v
		}
		if v, ok := p.Int(NowField(q.Category)); ok {
			s.Now = &v
		}
		if v, ok := p.Int(DiffField(q.Category)); ok {
			s.Diff = &v
		}
		slots[i] = s
	}
	return
}

// Payload is the payload as it was submitted, when the record kept it, or
// else one rebuilt from the slots.
func (r Record) Payload() *Payload {
	if r.Fields != nil && r.Fields.Len() > 0 {
		return r.Fields
	}

	p := NewPayload()
	p.Set(FieldDate, r.SubmittedAt.Local().Format(DateLayout))
	p.Set(FieldUser, r.UserName)

	for i, s := range r.Slots {
		label := s.Category
		if label == "" {
			label = fmt.Sprintf("Pregunta %d", i+1)
		}
		if s.Past != nil {
			p.Set(PastField(label), *s.Past)
		}
		if s.Now != nil {
			p.Set(NowField(label), *s.Now)
		}
		if s.Diff != nil {
			p.Set(DiffField(label), *s.Diff)
		}
	}
	return p
}
