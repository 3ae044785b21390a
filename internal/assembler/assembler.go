package assembler

import (
	"strings"
	"unicode/utf8"

	"ragqa/internal/domain"
)

const (
	entryPrefix = "Context:\n"
	entrySuffix = "\n"
	separator   = "\n"
)

// Assembler composes retrieved units into prompt context. MaxChars bounds the
// rendered text in characters (runes); zero means unbounded.
type Assembler struct {
	MaxChars int
}

// New creates an assembler with the given character budget.
func New(maxChars int) *Assembler {
	return &Assembler{MaxChars: maxChars}
}

// Assemble renders each unit as "Context:\n{text}\n" in input order, separated
// by a blank line. Units that would overflow the budget are dropped whole, but
// the first unit is always kept. No units yields the empty sentinel.
func (a *Assembler) Assemble(units []domain.RetrievedUnit) domain.AssembledContext {
	if len(units) == 0 {
		return domain.AssembledContext{}
	}
	var b strings.Builder
	kept := make([]domain.RetrievedUnit, 0, len(units))
	used := 0
	for i, u := range units {
		entry := entryPrefix + u.ChunkText + entrySuffix
		if i > 0 {
			entry = separator + entry
		}
		n := utf8.RuneCountInString(entry)
		if i > 0 && a.MaxChars > 0 && used+n > a.MaxChars {
			break
		}
		used += n
		b.WriteString(entry)
		kept = append(kept, u)
	}
	return domain.AssembledContext{Text: b.String(), Units: kept}
}

// Assemble renders units without a budget.
func Assemble(units []domain.RetrievedUnit) domain.AssembledContext {
	return (&Assembler{}).Assemble(units)
}
