package scheduling

import (
	"fmt"
	"strings"
	"unicode"
)

// Logical correlation fields recovered from booking questions.
const (
	FieldUserID        = "user id"
	FieldTransactionID = "transaction id"
	FieldProgramID     = "program id"
)

type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Position int    `json:"position"`
}

// MissingFieldError names the logical field no question matched.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Correlation holds the typed ids recovered from a booking.
type Correlation struct {
	UserID        string
	TransactionID string
	ProgramID     string
}

// EngagementKey is the program id, falling back to the transaction id.
func (c Correlation) EngagementKey() string {
	if c.ProgramID != "" {
		return c.ProgramID
	}
	return c.TransactionID
}

// Extract matches each normalized question against the logical field names
// by substring. When several questions match one field the last one wins.
// Empty answers are skipped.
func Extract(qas []QuestionAnswer) map[string]string {
	fields := []string{FieldUserID, FieldTransactionID, FieldProgramID}
	out := make(map[string]string, len(fields))
	for _, qa := range qas {
		answer := strings.TrimSpace(qa.Answer)
		if answer == "" {
			continue
		}
		q := normalize(qa.Question)
		for _, f := range fields {
			if strings.Contains(q, f) {
				out[f] = answer
			}
		}
	}
	return out
}

// Correlate extracts the ids and enforces the booking requirements: a user
// id and at least one of transaction id or program id.
func Correlate(qas []QuestionAnswer, fallbackUserID string) (Correlation, error) {
	found := Extract(qas)
	c := Correlation{
		UserID:        found[FieldUserID],
		TransactionID: found[FieldTransactionID],
		ProgramID:     found[FieldProgramID],
	}
	if c.UserID == "" {
		c.UserID = strings.TrimSpace(fallbackUserID)
	}
	if c.UserID == "" {
		return c, &MissingFieldError{Field: FieldUserID}
	}
	if c.EngagementKey() == "" {
		return c, &MissingFieldError{Field: FieldProgramID}
	}
	return c, nil
}

// normalize lowercases, strips punctuation and collapses whitespace, so
// "What is your User-ID?" becomes "what is your user id".
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
