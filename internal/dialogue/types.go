package dialogue

// Turn is one user message paired with the reply that was delivered for it.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// State is everything a session remembers between turns.
type State struct {
	History   []Turn `json:"conversation_history"`
	Summary   string `json:"summary"`
	Biography string `json:"user_bio"`
}

// NewState returns an empty history with the given initial artifacts.
func NewState(summary, biography string) State {
	return State{
		History:   []Turn{},
		Summary:   summary,
		Biography: biography,
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.History = make([]Turn, len(s.History))
	copy(c.History, s.History)
	return c
}

// Path is the route a turn took through the pipeline.
type Path string

const (
	PathCrisis Path = "crisis"
	PathNormal Path = "normal"
)

// Response is the result of one turn.
type Response struct {
	SessionID  string `json:"session_id"`
	TurnID     string `json:"turn_id"`
	Reply      string `json:"assistant"`
	Disclaimer string `json:"disclaimer"`
	History    []Turn `json:"conversation_history"`
	Summary    string `json:"summary"`
	Biography  string `json:"user_bio"`

	Path             Path  `json:"path"`
	Classification   Label `json:"classification,omitempty"`
	Depressed        bool  `json:"depressed"`
	WantsConclusion  bool  `json:"wants_conclusion"`
	SummaryUpdated   bool  `json:"summary_updated"`
	BiographyUpdated bool  `json:"biography_updated"`
}
