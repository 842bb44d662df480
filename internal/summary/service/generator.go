package service

import (
	"context"
	"fmt"
	"strings"

	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	summarydomain "github.com/talktime/talktime/internal/summary/domain"
)

// templateGenerator renders a plain-text receipt from the order's final
// billing fields. It stands in for an external summarization service.
type templateGenerator struct{}

func NewTemplateGenerator() summarydomain.Generator {
	return &templateGenerator{}
}

func (templateGenerator) Generate(_ context.Context, order *consultationdomain.Order) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultation %d (%s)\n", order.ID, order.ConsultationType)
	fmt.Fprintf(&b, "Status: %s", order.Status)
	if order.EndReason != nil {
		fmt.Fprintf(&b, " (%s)", *order.EndReason)
	}
	b.WriteString("\n")
	if order.DurationSeconds != nil {
		fmt.Fprintf(&b, "Billed duration: %ds\n", *order.DurationSeconds)
	}
	if order.Cost != nil {
		fmt.Fprintf(&b, "Charged: %.2f %s\n", *order.Cost, order.Currency)
	}
	if order.ExpertEarnings != nil {
		fmt.Fprintf(&b, "Expert earnings: %.2f %s\n", *order.ExpertEarnings, order.Currency)
	}
	return b.String(), nil
}
