// Package bank parses question-bank files into ordered question records.
package bank

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"paidquiz-service/internal/domain"
)

var requiredColumns = []string{"question", "option_a", "option_b", "option_c", "option_d", "answer"}

// Parse reads a question bank: a header row with question, option_a..d, and
// answer columns (any order), one question per row. Row order defines the
// 1-based ordinals of the answer key.
func Parse(r io.Reader) ([]domain.Question, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("question bank missing column %q", col)
		}
	}

	field := func(row []string, col string) string {
		i := index[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	questions := make([]domain.Question, 0)
	for ordinal := 1; ; ordinal++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", ordinal, err)
		}
		answer := strings.ToUpper(field(row, "answer"))
		if answer != "A" && answer != "B" && answer != "C" && answer != "D" {
			return nil, fmt.Errorf("row %d: answer %q is not one of A-D", ordinal, answer)
		}
		questions = append(questions, domain.Question{
			Ordinal: ordinal,
			Prompt:  field(row, "question"),
			Options: map[string]string{
				"A": field(row, "option_a"),
				"B": field(row, "option_b"),
				"C": field(row, "option_c"),
				"D": field(row, "option_d"),
			},
			Answer: answer,
		})
	}
	return questions, nil
}
