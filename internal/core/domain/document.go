package domain

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusAnalyzed   DocumentStatus = "analyzed"
	StatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusAnalyzed, StatusFailed:
		return true
	default:
		return false
	}
}

// Document is the client-side record of a persisted document.
// Analysis is non-nil only while Status is StatusAnalyzed.
type Document struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	OriginalFilename string         `json:"originalFilename"`
	Extension        string         `json:"extension"`
	Size             int64          `json:"size"`
	UploadedAt       time.Time      `json:"uploadedAt"`
	MatterID         *string        `json:"matterId"`
	DocumentType     string         `json:"documentType,omitempty"`
	Tags             []string       `json:"tags"`
	Status           DocumentStatus `json:"status"`
	Analysis         *Analysis      `json:"analysis"`
	Questions        []QAEntry      `json:"questions,omitempty"`
}

type Party struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type KeyDate struct {
	Label string `json:"label"`
	Date  string `json:"date"`
}

type FinancialTerm struct {
	Label    string  `json:"label"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

type Clause struct {
	Title     string `json:"title"`
	Text      string `json:"text,omitempty"`
	RiskLevel string `json:"riskLevel,omitempty"`
}

type Risk struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type Analysis struct {
	Summary         string          `json:"summary"`
	KeyPoints       []string        `json:"keyPoints"`
	Parties         []Party         `json:"parties"`
	Dates           []KeyDate       `json:"dates"`
	Financials      []FinancialTerm `json:"financials"`
	Clauses         []Clause        `json:"clauses"`
	Risks           []Risk          `json:"risks"`
	Recommendations []string        `json:"recommendations"`
	Confidence      float64         `json:"confidence"`
	GeneratedAt     time.Time       `json:"generatedAt"`
}

// DisplaySize formats Size for humans; computed on demand.
func (d Document) DisplaySize() string {
	if d.Size < 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(d.Size))
}

// Normalize fills derived fields and enforces the analysis/status invariant.
func (d *Document) Normalize() {
	if d.Extension == "" {
		d.Extension = ExtensionOf(d.OriginalFilename)
	} else {
		d.Extension = strings.ToLower(strings.TrimPrefix(d.Extension, "."))
	}
	if d.Name == "" {
		d.Name = d.OriginalFilename
	}
	if d.MatterID != nil && strings.TrimSpace(*d.MatterID) == "" {
		d.MatterID = nil
	}
	d.Tags = MergeTags(nil, d.Tags)
	if d.Status == "" {
		d.Status = StatusUploaded
	}
	if d.Status != StatusAnalyzed {
		d.Analysis = nil
	}
}

// HasTag reports whether tag is present, compared case-sensitively after trimming.
func (d Document) HasTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never share slices with the registry.
func (d Document) Clone() Document {
	out := d
	if d.MatterID != nil {
		m := *d.MatterID
		out.MatterID = &m
	}
	out.Tags = append([]string(nil), d.Tags...)
	if d.Analysis != nil {
		a := d.Analysis.Clone()
		out.Analysis = &a
	}
	if d.Questions != nil {
		out.Questions = make([]QAEntry, len(d.Questions))
		for i, q := range d.Questions {
			out.Questions[i] = q.Clone()
		}
	}
	return out
}

func (a Analysis) Clone() Analysis {
	out := a
	out.KeyPoints = append([]string(nil), a.KeyPoints...)
	out.Parties = append([]Party(nil), a.Parties...)
	out.Dates = append([]KeyDate(nil), a.Dates...)
	out.Financials = append([]FinancialTerm(nil), a.Financials...)
	out.Clauses = append([]Clause(nil), a.Clauses...)
	out.Risks = append([]Risk(nil), a.Risks...)
	out.Recommendations = append([]string(nil), a.Recommendations...)
	return out
}

// ExtensionOf returns the lower-case extension of filename without the dot.
func ExtensionOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// MergeTags returns the union of existing and added, trimmed, de-duplicated, in first-seen order.
func MergeTags(existing, added []string) []string {
	out := make([]string, 0, len(existing)+len(added))
	seen := make(map[string]struct{}, len(existing)+len(added))
	for _, list := range [][]string{existing, added} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// DocumentDetail is the single-document read model with its question thread.
type DocumentDetail struct {
	Document  Document
	Questions []QAEntry
}

// DocumentPatch is a metadata update; nil fields are left unchanged.
type DocumentPatch struct {
	Name         *string  `json:"name,omitempty"`
	MatterID     *string  `json:"matterId,omitempty"`
	DocumentType *string  `json:"documentType,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}
