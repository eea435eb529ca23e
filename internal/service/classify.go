package service

import "strings"

// Action is the stock effect an external order event asks for.
type Action int

const (
	ActionSale Action = iota
	ActionCancel
	ActionReturn
)

func (a Action) String() string {
	switch a {
	case ActionCancel:
		return "CANCEL"
	case ActionReturn:
		return "RETURN"
	default:
		return "SALE"
	}
}

// ClassifyStatus maps free-text status or event-type fields to an Action by
// keyword. Anything that is not a cancellation or a return is a sale.
func ClassifyStatus(texts ...string) Action {
	joined := strings.ToLower(strings.Join(texts, " "))
	switch {
	case strings.Contains(joined, "return"), strings.Contains(joined, "refund"):
		return ActionReturn
	case strings.Contains(joined, "cancel"):
		return ActionCancel
	default:
		return ActionSale
	}
}

// unpaid reports whether a sale status says payment has not happened yet.
func unpaid(texts ...string) bool {
	joined := strings.ToLower(strings.Join(texts, " "))
	return strings.Contains(joined, "unpaid") || strings.Contains(joined, "awaiting_payment")
}
