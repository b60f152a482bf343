package game

// Choice is one of the three throwable hands.
type Choice string

const (
	Rock     Choice = "rock"
	Paper    Choice = "paper"
	Scissors Choice = "scissors"
)

// DefaultChoice is played on behalf of anyone who lets the round deadline lapse.
const DefaultChoice = Rock

// ParseChoice validates a wire string before it enters the state machine.
func ParseChoice(s string) (Choice, bool) {
	switch Choice(s) {
	case Rock, Paper, Scissors:
		return Choice(s), true
	default:
		return "", false
	}
}

type Outcome int

const (
	Tie Outcome = iota
	FirstWins
	SecondWins
)

// beats[x] is the choice x defeats.
var beats = map[Choice]Choice{
	Rock:     Scissors,
	Scissors: Paper,
	Paper:    Rock,
}

// Resolve computes the outcome of a single round. Pure; callers guarantee
// both choices went through ParseChoice at the boundary.
func Resolve(a, b Choice) Outcome {
	if a == b {
		return Tie
	}
	if beats[a] == b {
		return FirstWins
	}
	return SecondWins
}
