package domain

// TurnRole identifies which side of the conversation produced a turn.
type TurnRole string

const (
	TurnUser      TurnRole = "user"
	TurnAssistant TurnRole = "assistant"
)

// Turn is one exchange entry sent to the inference endpoint as short-term
// context. The JSON shape matches the back end's history payload.
type Turn struct {
	Role    TurnRole `json:"role"`
	Content string   `json:"content"`
}
